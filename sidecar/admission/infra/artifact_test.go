package infra

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admission-sidecar/sidecar/admission/domain"
)

func sampleWhitelist() *domain.Whitelist {
	servers := domain.ServerSet{"A", "B", "C"}
	w := domain.NewWhitelist([]domain.TaskKey{"GET/cart", "POST/cart?add#json", "GET/home"}, servers)
	w.Remove("GET/cart", "B")
	for _, s := range servers {
		w.Remove("GET/home", s)
	}
	return w
}

func TestEncodeWhitelist(t *testing.T) {
	got := string(EncodeWhitelist(sampleWhitelist()))
	want := "GET/cart,AC\nPOST/cart?add#json,ABC\nGET/home,0\n"
	assert.Equal(t, want, got)
}

func TestFileArtifact_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.csv")
	w := sampleWhitelist()

	require.NoError(t, FileArtifact{Path: path}.Write(w))
	got, err := ReadArtifact(path)
	require.NoError(t, err)

	if diff := cmp.Diff(w.Entries(), got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFileArtifact_TruncatesPreviousContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("stale,XYZ\n", 20)), 0o644))

	servers := domain.ServerSet{"A"}
	require.NoError(t, FileArtifact{Path: path}.Write(domain.NewWhitelist([]domain.TaskKey{"GET/a"}, servers)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "GET/a,A\n", string(data))
}

func TestFileArtifact_WriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "whitelist.csv")
	err := FileArtifact{Path: path}.Write(sampleWhitelist())
	assert.Error(t, err)
}

func TestParseWhitelist(t *testing.T) {
	got, err := ParseWhitelist(strings.NewReader("GET/cart,AC\r\n\nGET/home,0\n\x00"))
	require.NoError(t, err)
	assert.Equal(t, map[domain.TaskKey][]domain.ServerID{
		"GET/cart": {"A", "C"},
		"GET/home": {},
	}, got)
}

func TestParseWhitelist_Errors(t *testing.T) {
	cases := map[string]string{
		"no comma":      "GET/cart\n",
		"empty servers": "GET/cart,\n",
		"duplicate key": "GET/a,A\nGET/a,B\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseWhitelist(strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}
