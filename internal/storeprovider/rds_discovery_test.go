package storeprovider

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/oriys/relay/internal/config"
)

func tagPtr(k, v string) types.Tag { return types.Tag{Key: &k, Value: &v} }

func TestRDSDiscovery_MatchesTag(t *testing.T) {
	d := &RDSDiscovery{cfg: config.RDSDiscoveryConfig{TagKey: "relay-managed", TagValue: "true"}}

	tags := []types.Tag{tagPtr("env", "prod"), tagPtr("relay-managed", "true")}
	if !d.matchesTag(tags) {
		t.Fatal("expected matching tag to be accepted")
	}

	wrongValue := []types.Tag{tagPtr("relay-managed", "false")}
	if d.matchesTag(wrongValue) {
		t.Fatal("expected mismatched tag value to be rejected")
	}

	missing := []types.Tag{tagPtr("env", "prod")}
	if d.matchesTag(missing) {
		t.Fatal("expected missing tag key to be rejected")
	}
}

func TestRDSDiscovery_NoTagKeyConfiguredMatchesEverything(t *testing.T) {
	d := &RDSDiscovery{cfg: config.RDSDiscoveryConfig{}}
	if !d.matchesTag(nil) {
		t.Fatal("expected an empty TagKey filter to match any instance")
	}
}
