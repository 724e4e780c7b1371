package device

import (
	"strings"
)

// CCCDUUID is the Client Characteristic Configuration descriptor. Enabling
// notifications writes EnableNotificationValue to it.
const CCCDUUID = "00002902-0000-1000-8000-00805f9b34fb"

// EnableNotificationValue is the CCCD value that turns notifications on.
var EnableNotificationValue = []byte{0x01, 0x00}

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Handles both standard UUID format (with dashes) and already normalized format (without dashes).
// Also strips 0x prefix and braces if present (e.g., "0x2902" -> "2902").
// For full 128-bit UUIDs in Bluetooth SIG base format (0000xxxx-0000-1000-8000-00805f9b34fb),
// extracts the 16-bit short form (xxxx).
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
// Returns the first eight characters for long UUIDs and short UUIDs by themselves.
func ShortenUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// CharacteristicID builds the identifier a Link uses for a characteristic:
// normalized service UUID and characteristic UUID joined by a slash.
func CharacteristicID(serviceUUID, charUUID string) string {
	return NormalizeUUID(serviceUUID) + "/" + NormalizeUUID(charUUID)
}

// SplitCharacteristicID is the inverse of CharacteristicID.
func SplitCharacteristicID(id string) (serviceUUID, charUUID string, ok bool) {
	return strings.Cut(id, "/")
}
