package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModuleTag_SkipsSuiteTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		tags        []string
		featureName string
		want        string
	}{
		{name: "specific tag first", tags: []string{"@Login", "@Regression"}, want: "@Login"},
		{name: "suite tags first", tags: []string{"@Regression", "@sanity", "@Cart"}, want: "@Cart"},
		{name: "only suite tags", tags: []string{"@Smoke", "@Sanity"}, want: "@Smoke"},
		{name: "no tags", featureName: "My account page", want: "@MyAccountPage"},
		{name: "no tags, punctuation", featureName: "quarry/address - selection", want: "@QuarryAddressSelection"},
		{name: "nothing at all", want: "@Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ModuleTag(tt.tags, tt.featureName))
		})
	}
}

func TestModuleID_LowercasesTag(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "productdisplay", ModuleID("@ProductDisplay"))
	assert.Equal(t, "login", ModuleID("Login"))
}

func TestFallbackTag_Capitalizes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "@Login", FallbackTag("login"))
	assert.Equal(t, "@MyAccount", FallbackTag("myAccount"))
}

func TestFormatEstimate_PicksUnitByMagnitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		scenarios int
		want      string
	}{
		{0, "0s"},
		{1, "45s"},
		{2, "1m"},
		{79, "59m"},
		{80, "1h 0m"},
		{100, "1h 15m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatEstimate(Estimate(tt.scenarios)), "scenarios=%d", tt.scenarios)
	}
	assert.Equal(t, "30s", FormatEstimate(30*time.Second+400*time.Millisecond))
}
