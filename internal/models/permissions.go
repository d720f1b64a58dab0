package models

// Permission constants
const (
	// Wallet permissions
	PermissionWalletRead  = "wallet:read"
	PermissionWalletWrite = "wallet:write"

	// Admin permissions
	PermissionAdmin = "admin:write"
)

// GetDefaultPermissions returns default permissions based on role
func GetDefaultPermissions(role string) []string {
	switch role {
	case "admin":
		return []string{
			PermissionAdmin,
			PermissionWalletRead,
			PermissionWalletWrite,
		}
	case "user":
		return []string{
			PermissionWalletRead,
			PermissionWalletWrite,
		}
	default:
		return []string{PermissionWalletRead}
	}
}
