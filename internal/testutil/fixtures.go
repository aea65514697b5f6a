package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// LabelFixture pairs raw zone text, as an OCR engine would return it, with
// the fields a parser is expected to recover.
type LabelFixture struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Zones       map[string]string `json:"zones"`
	Barcode     *string           `json:"barcode,omitempty"`
	Expected    map[string]string `json:"expected"`
	Outcome     string            `json:"outcome"`
}

// LoadLabelFixture loads testdata/fixtures/labels/<name>.json.
func LoadLabelFixture(t *testing.T, name string) LabelFixture {
	t.Helper()

	path := filepath.Join(labelFixturesDir(t), name+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", path)

	var fixture LabelFixture
	require.NoError(t, json.Unmarshal(data, &fixture), "Failed to unmarshal fixture JSON")
	if fixture.Name == "" {
		fixture.Name = name
	}
	return fixture
}

// LoadLabelFixtures loads every label fixture, sorted by name.
func LoadLabelFixtures(t *testing.T) []LabelFixture {
	t.Helper()

	dir := labelFixturesDir(t)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "Failed to list fixtures in %s", dir)

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	slices.Sort(names)

	out := make([]LabelFixture, 0, len(names))
	for _, n := range names {
		out = append(out, LoadLabelFixture(t, n))
	}
	return out
}

// SaveLabelFixture writes a fixture next to the existing ones.
func SaveLabelFixture(t *testing.T, fixture LabelFixture) {
	t.Helper()

	dir := labelFixturesDir(t)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	data, err := json.MarshalIndent(fixture, "", "  ")
	require.NoError(t, err, "Failed to marshal fixture to JSON")
	require.NoError(t, os.WriteFile(filepath.Join(dir, fixture.Name+".json"), data, 0o600))
}
