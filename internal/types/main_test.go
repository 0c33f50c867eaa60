package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStringList_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want StringList
	}{
		{name: "scalar", in: "notify: restart nginx", want: StringList{"restart nginx"}},
		{name: "sequence", in: "notify: [a, b]", want: StringList{"a", "b"}},
		{name: "empty", in: "notify: ''", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Notify StringList `yaml:"notify"`
			}
			require.NoError(t, yaml.Unmarshal([]byte(tt.in), &out))
			assert.Equal(t, tt.want, out.Notify)
		})
	}

	var bad struct {
		Notify StringList `yaml:"notify"`
	}
	err := yaml.Unmarshal([]byte("notify: {a: b}"), &bad)
	assert.Error(t, err)
}

func TestParams(t *testing.T) {
	p := Params{
		"name":    "nginx",
		"port":    8080,
		"enabled": "yes",
		"list":    []interface{}{"a", "b"},
		"one":     "x",
	}
	assert.Equal(t, "nginx", p.String("name"))
	assert.Equal(t, "8080", p.String("port"))
	assert.Equal(t, "", p.String("missing"))
	assert.True(t, p.Bool("enabled"))
	assert.False(t, p.Bool("missing"))
	assert.Equal(t, []string{"a", "b"}, p.Strings("list"))
	assert.Equal(t, []string{"x"}, p.Strings("one"))
	assert.Nil(t, p.Strings("missing"))
}

func TestParams_UnmarshalYAML(t *testing.T) {
	var p Params
	require.NoError(t, yaml.Unmarshal([]byte("mode: 0644\nport: 8080\nname: nginx\nlist: [1, 2]\n"), &p))
	assert.Equal(t, "0644", p["mode"])
	assert.Equal(t, "8080", p.String("port"))
	assert.Equal(t, "nginx", p.String("name"))
	assert.Equal(t, []string{"1", "2"}, p.Strings("list"))

	var empty struct {
		Params Params `yaml:"params"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("params:\n"), &empty))
	assert.Nil(t, empty.Params)

	assert.Error(t, yaml.Unmarshal([]byte("[a, b]"), &p))
}
