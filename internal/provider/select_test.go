package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"nothing set", nil, NameMock},
		{"groq key", map[string]string{"GROQ_API_KEY": "g"}, NameGroq},
		{"openai key", map[string]string{"OPENAI_API_KEY": "o"}, NameOpenAI},
		{"groq preferred", map[string]string{"GROQ_API_KEY": "g", "OPENAI_API_KEY": "o"}, NameGroq},
		{"explicit wins", map[string]string{"LLM_PROVIDER": "OpenAI", "GROQ_API_KEY": "g"}, NameOpenAI},
		{"forced mock", map[string]string{"ADA_MOCK_LLM": "true", "OPENAI_API_KEY": "o"}, NameMock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SettingsFromEnv(env(tc.env)).Resolve())
		})
	}
}

func TestSelect(t *testing.T) {
	p, err := Select(Settings{})
	require.NoError(t, err)
	_, ok := p.(*Mock)
	assert.True(t, ok)

	p, err = Select(Settings{Name: NameGroq, GroqKey: "g"})
	require.NoError(t, err)
	c, ok := p.(*Client)
	require.True(t, ok)
	assert.Equal(t, "https://api.groq.com/openai/v1", c.cfg.BaseURL)
	assert.Equal(t, "llama-3.3-70b-versatile", c.cfg.Model)

	_, err = Select(Settings{Name: NameOpenAI})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = Select(Settings{Name: "fake_provider"})
	assert.ErrorContains(t, err, "unsupported provider")
}
