// ABOUTME: Tests for the version constants
// ABOUTME: Checks the values advertised over mDNS, the server hello, and --version
package version

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionIsSemver(t *testing.T) {
	// published as the mDNS "version=" TXT record and the hello software_version
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d+\.\d+$`), Version)
}

func TestProductMatchesServiceName(t *testing.T) {
	// remotes expect the product to match the _framesync._tcp service type
	assert.Equal(t, "framesync", Product)
}

func TestManufacturer(t *testing.T) {
	assert.NotEmpty(t, Manufacturer)
}

func TestString(t *testing.T) {
	assert.Equal(t, "framesync "+Version, String())
}
