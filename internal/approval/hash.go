package approval

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPrefix позволяет менять алгоритм в будущем без двусмысленности в хранилище
const HashPrefix = "sha256:"

// PatchHash вычисляет контент-хэш точного байтового содержимого дифа.
// Апрув привязывается к этому значению: изменился хоть один байт —
// хэш другой и апрув недействителен.
func PatchHash(diff []byte) string {
	sum := sha256.Sum256(diff)
	return HashPrefix + hex.EncodeToString(sum[:])
}
