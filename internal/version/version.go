// ABOUTME: Version information for framesync
// ABOUTME: Reported in logs, the control server hello, and mDNS records
package version

const (
	// Version is the framesync release
	Version = "0.3.0"

	// Product is the product name advertised to remotes
	Product = "framesync"

	// Manufacturer is the organization shipping framesync
	Manufacturer = "Resonate Protocol"
)

// String returns the product and release, as printed by --version
func String() string {
	return Product + " " + Version
}
