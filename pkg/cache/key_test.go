package cache

import (
	"net/url"
	"testing"

	"github.com/Sternrassler/respcache/pkg/policy"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "simple resource no params",
			key: Key{
				Category: policy.CategoryParks,
				Resource: "/parks",
			},
			want: "parks:/parks",
		},
		{
			name: "trailing slash dropped",
			key: Key{
				Category: policy.CategoryParks,
				Resource: "/parks/yose/",
			},
			want: "parks:/parks/yose",
		},
		{
			name: "root resource kept",
			key: Key{
				Category: policy.CategoryStatic,
				Resource: "/",
			},
			want: "static:/",
		},
		{
			name: "query params",
			key: Key{
				Category: policy.CategoryWeather,
				Resource: "/forecast",
				Params:   url.Values{"lat": []string{"37.7"}},
			},
			want: "weather:/forecast?lat=37.7",
		},
		{
			name: "multiple params sorted",
			key: Key{
				Category: policy.CategoryWeather,
				Resource: "/forecast",
				Params: url.Values{
					"lon":   []string{"-119.5"},
					"lat":   []string{"37.7"},
					"units": []string{"metric"},
				},
			},
			want: "weather:/forecast?lat=37.7&lon=-119.5&units=metric",
		},
		{
			name: "empty params omitted",
			key: Key{
				Category: policy.CategorySearch,
				Resource: "/search",
				Params:   url.Values{},
			},
			want: "search:/search",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.key.String()
			if got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_Determinism ensures same input always produces same key
func TestKey_Determinism(t *testing.T) {
	key := Key{
		Category: policy.CategoryWeather,
		Resource: "/forecast",
		Params: url.Values{
			"z": []string{"1"},
			"a": []string{"2"},
			"m": []string{"3"},
		},
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("result[%d] = %v, want %v (not deterministic)", i, got, first)
		}
	}
}

func TestKey_DistinctCategories(t *testing.T) {
	a := Key{Category: policy.CategoryParks, Resource: "/x"}.String()
	b := Key{Category: policy.CategoryWeather, Resource: "/x"}.String()
	if a == b {
		t.Errorf("keys for different categories collide: %s", a)
	}
}
