package banner

import (
	"strings"
	"testing"
)

func TestBannerHasVersion(t *testing.T) {
	b := Banner("v1.2.3")
	if !strings.Contains(b, "v1.2.3") {
		t.Errorf("banner does not mention the version:\n%s", b)
	}
}
