package library

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/iammatthi/spacedrive/internal/document"
	"github.com/iammatthi/spacedrive/internal/identity"
	"github.com/iammatthi/spacedrive/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Photos"))
	assert.NoError(t, ValidateName("My Library"))
	for _, bad := range []string{"", " Photos", "Photos ", "\t"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, "%q", bad)
	}
}

func TestNew(t *testing.T) {
	seed := bytes.Repeat([]byte{5}, identity.Size)
	c, err := New("Photos", testNodeID, identity.Generator{Rand: bytes.NewReader(seed)})
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, c.Version)
	assert.Equal(t, "Photos", c.Name)
	assert.Nil(t, c.Description)
	assert.Equal(t, Identity(seed), c.Identity)
	assert.Equal(t, testNodeID, c.NodeID)

	_, err = New(" ", testNodeID, nil)
	assert.ErrorIs(t, err, ErrInvalidName)

	c, err = New("Docs", testNodeID, nil)
	require.NoError(t, err)
	assert.Len(t, c.Identity, identity.Size)
}

func TestConfig_DocumentRoundTrip(t *testing.T) {
	desc := "holiday pictures"
	c := &Config{
		Version:     CurrentVersion,
		Name:        "Photos",
		Description: &desc,
		Identity:    bytes.Repeat([]byte{0xfe}, identity.Size),
		NodeID:      testNodeID,
	}

	doc, err := c.ToDocument()
	require.NoError(t, err)
	id, ok := doc.Bytes("identity")
	require.True(t, ok, "identity is stored as an integer array")
	assert.Equal(t, []byte(c.Identity), id)
	nodeID, _ := doc.String("node_id")
	assert.Equal(t, testNodeID.String(), nodeID)

	back, err := FromDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestFromDocument_Rejects(t *testing.T) {
	_, err := FromDocument(document.Document{"version": 3})
	assert.Error(t, err)

	_, err = FromDocument(document.Document{"version": 5, "name": "x", "identity": []any{1, 2}, "node_id": testNodeID.String()})
	assert.ErrorIs(t, err, identity.ErrInvalidIdentity)

	_, err = FromDocument(document.Document{"version": 5, "name": "x", "identity": []any{300}, "node_id": testNodeID.String()})
	assert.Error(t, err)
}

func TestIdentity_JSON(t *testing.T) {
	data, err := json.Marshal(Identity{0, 1, 255})
	require.NoError(t, err)
	assert.JSONEq(t, `[0,1,255]`, string(data))

	var id Identity
	require.NoError(t, json.Unmarshal([]byte(`[7,8]`), &id))
	assert.Equal(t, Identity{7, 8}, id)
	assert.Error(t, json.Unmarshal([]byte(`"AQI="`), &id))
	assert.Error(t, json.Unmarshal([]byte(`[-1]`), &id))
}

func TestSanitisedAndWrapped(t *testing.T) {
	c := &Config{Version: 5, Name: "Photos", Identity: bytes.Repeat([]byte{1}, 32), NodeID: testNodeID}
	libID := uuid.MustParse("0b6a4c4e-8d0f-4f3e-b3c1-2a4a0c7c1a55")

	data, err := json.Marshal(c.Wrap(libID))
	require.NoError(t, err)
	assert.JSONEq(t, `{"uuid":"0b6a4c4e-8d0f-4f3e-b3c1-2a4a0c7c1a55","config":{"name":"Photos","description":null,"node_id":"`+testNodeID.String()+`"}}`, string(data))
	assert.NotContains(t, string(data), "identity")
}

func TestIDFromPath(t *testing.T) {
	id := uuid.MustParse("0b6a4c4e-8d0f-4f3e-b3c1-2a4a0c7c1a55")
	p := PathFor(filepath.Join("data", "libraries"), id)
	assert.Equal(t, filepath.Join("data", "libraries", id.String()+".sdlibrary"), p)

	got, err := IDFromPath(p)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = IDFromPath("notes.txt")
	assert.Error(t, err)
	_, err = IDFromPath("not-a-uuid.sdlibrary")
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	_, err := Default("/libs/x.sdlibrary")
	require.ErrorIs(t, err, migration.ErrConfigFileMissing)
	assert.Contains(t, err.Error(), "/libs/x.sdlibrary")
}
