package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		input   string
		want    Profile
		wantErr bool
	}{
		{"static", ProfileStatic, false},
		{"http", ProfileHTTP, false},
		{"STATIC", ProfileStatic, false},
		{" http ", ProfileHTTP, false},
		{"", ProfileStatic, false},
		{"ollama", "", true},
		{"mlx", "", true},
		{"gibberish", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseProfile(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "unknown embedder profile")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTokenEmbedderStaticIsCached(t *testing.T) {
	e, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: ProfileStatic})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	cached, ok := e.(*CachedTokenEmbedder)
	require.True(t, ok, "embedder should be wrapped with a cache by default")
	_, ok = cached.Inner().(*StaticTokenEmbedder)
	assert.True(t, ok)
}

func TestNewTokenEmbedderCacheDisabledByEnv(t *testing.T) {
	t.Setenv("QUARRY_EMBED_CACHE", "false")

	e, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: ProfileStatic})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, ok := e.(*StaticTokenEmbedder)
	assert.True(t, ok, "cache wrapper should be skipped")
}

func TestNewTokenEmbedderEnvOverridesProfile(t *testing.T) {
	t.Setenv("QUARRY_EMBEDDER", "static")
	t.Setenv("QUARRY_EMBED_CACHE", "false")

	e, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: ProfileHTTP})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, ok := e.(*StaticTokenEmbedder)
	assert.True(t, ok)
}

func TestNewTokenEmbedderRejectsUnknownEnvProfile(t *testing.T) {
	t.Setenv("QUARRY_EMBEDDER", "onnx")

	_, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: ProfileStatic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUARRY_EMBEDDER")
}

func TestNewTokenEmbedderRejectsUnknownProfile(t *testing.T) {
	_, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: Profile("tensor")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedder profile")
}

func TestGetInfo(t *testing.T) {
	e, err := NewTokenEmbedder(context.Background(), FactoryConfig{Profile: ProfileStatic})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	info := GetInfo(context.Background(), e)
	assert.Equal(t, ProfileStatic, info.Profile)
	assert.Equal(t, StaticModelTag, info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Available)
}
