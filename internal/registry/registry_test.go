package registry

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func featureFS() fstest.MapFS {
	return fstest.MapFS{
		"login.feature": {Data: []byte(`@Login @Regression
Feature: User login

  @Login @P1
  Scenario: Valid login
    Given the user is on the login page

  @P2
  Scenario: Wrong password
    When the user submits a bad password

  Scenario: Forgot password
`)},
		"checkout/cart.feature": {Data: []byte(`@Regression @Cart
Feature: Shopping cart

  @Sanity
  Scenario: Add to cart
    Given an empty cart
`)},
		"search.feature": {Data: []byte(`Feature: Product search
  Scenario: Search by name
`)},
		"notes.txt":      {Data: []byte("@Ignored\nFeature: not a feature file\n")},
		"broken.feature": {Data: []byte("@P1\nScenario: orphan\n")},
		"suite.feature":  {Data: []byte("@Smoke\nFeature: Smoke pack\n  Scenario: Ping\n")},
		"drafts/.keep":   {Data: nil},
	}
}

func TestDiscover_BuildsOneModulePerFeature_When_FeatureLinePresent(t *testing.T) {
	t.Parallel()

	modules, err := NewFS(featureFS()).Discover(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(modules))
	for _, m := range modules {
		ids = append(ids, m.ID)
	}
	// sorted by path: checkout/cart, login, search, suite
	assert.Equal(t, []string{"cart", "login", "productsearch", "smoke"}, ids)
}

func TestDiscover_CountsPriorities_ForLoginModule(t *testing.T) {
	t.Parallel()

	m, err := NewFS(featureFS()).Find(context.Background(), "login")
	require.NoError(t, err)

	assert.Equal(t, "User login", m.Name)
	assert.Equal(t, "@Login", m.Tag)
	assert.Equal(t, "login.feature", m.FeatureFile)
	assert.Equal(t, StatusReady, m.Status)
	assert.Equal(t, 3, m.ScenarioCount)
	assert.Equal(t, PriorityCounts{P1: 1, P2: 1, P3: 0, Untagged: 1}, m.PriorityCounts)
	assert.Equal(t, "2m", m.EstimatedTime)
	assert.Equal(t, 135*time.Second, m.EstimatedDuration)
	assert.Equal(t, "User login test scenarios", m.Description)
}

func TestDiscover_IsIdempotent_When_CalledTwice(t *testing.T) {
	t.Parallel()

	r := NewFS(featureFS())
	first, err := r.Discover(context.Background())
	require.NoError(t, err)
	second, err := r.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].PriorityCounts, second[i].PriorityCounts, first[i].ID)
	}
}

func TestDiscover_SeesEdits_When_SourceChanges(t *testing.T) {
	t.Parallel()

	fsys := featureFS()
	r := NewFS(fsys)
	before, err := r.Find(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, 1, before.ScenarioCount)

	fsys["checkout/cart.feature"] = &fstest.MapFile{Data: []byte(`@Cart
Feature: Shopping cart
  @P3
  Scenario: One
  @P3
  Scenario: Two
`)}
	after, err := r.Find(context.Background(), "cart")
	require.NoError(t, err)
	assert.Equal(t, 2, after.ScenarioCount)
	assert.Equal(t, 2, after.PriorityCounts.P3)
}

func TestFind_ReturnsErrModuleNotFound_When_IDUnknown(t *testing.T) {
	t.Parallel()

	_, err := NewFS(featureFS()).Find(context.Background(), "payments")
	require.ErrorIs(t, err, ErrModuleNotFound)
}

func TestDiscover_FailsWithContextError_When_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFS(featureFS()).Discover(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLookup_ResolvesModuleTags(t *testing.T) {
	t.Parallel()

	lookup, err := NewFS(featureFS()).Lookup(context.Background())
	require.NoError(t, err)

	tag, ok := lookup("cart")
	assert.True(t, ok)
	assert.Equal(t, "@Cart", tag)

	_, ok = lookup("nope")
	assert.False(t, ok)
}

func TestScenarioNames_ListsScenariosInSourceOrder(t *testing.T) {
	t.Parallel()

	names, err := NewFS(featureFS()).ScenarioNames(context.Background())
	require.NoError(t, err)

	got, ok := names("login")
	assert.True(t, ok)
	assert.Equal(t, []string{"Valid login", "Wrong password", "Forgot password"}, got)

	_, ok = names("nope")
	assert.False(t, ok)
}

func TestNew_ReadsFeatureFilesFromDisk(t *testing.T) {
	t.Parallel()

	modules, err := New("testdata/features").Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "account", modules[0].ID)
	assert.Equal(t, "quarry", modules[1].ID)
}
