package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMenuGroups(t *testing.T) {
	raw := []byte(`[
		{"id":"flavor","key":"flavor","title":"Flavors","options":[
			{"name":"Classic Acai","price":8.0},
			{"name":"Protein Acai","price":9.0}
		]},
		{"options":[{"name":"Honey"}]},
		{"id":"empty","title":"Empty","options":[]}
	]`)
	groups, err := DecodeMenuGroups(raw)
	require.NoError(t, err)
	require.Len(t, groups, 2, "groups without options are dropped")
	assert.Equal(t, "flavor", groups[0].ID)
	assert.Equal(t, "group_1", groups[1].ID, "missing id is filled from position")
	assert.Equal(t, "group_1", groups[1].Key)
	assert.Equal(t, "Option Group 2", groups[1].Title)
}

func TestDecodeMenuGroupsRejectsBadOptions(t *testing.T) {
	_, err := DecodeMenuGroups([]byte(`[{"options":[{"name":"  "}]}]`))
	assert.Error(t, err, "blank option name")

	_, err = DecodeMenuGroups([]byte(`[{"options":[{"name":"Acai","price":-1}]}]`))
	assert.Error(t, err, "negative price")

	_, err = DecodeMenuGroups([]byte(`[]`))
	assert.Error(t, err, "no usable groups")

	_, err = DecodeMenuGroups([]byte(`{`))
	assert.Error(t, err, "malformed json")
}

func TestDecodePricing(t *testing.T) {
	table, err := DecodePricing([]byte(`{"Classic Acai":8.0,"Vegan Acai":8.5}`))
	require.NoError(t, err)
	assert.InDelta(t, 8.5, table["Vegan Acai"], 1e-9)

	_, err = DecodePricing([]byte(`{"Classic Acai":-2}`))
	assert.Error(t, err)
}

func TestDecodeBranding(t *testing.T) {
	b, err := DecodeBranding([]byte(`{"title":"🍧 Hello","subtitle":"order now"}`))
	require.NoError(t, err)
	assert.Equal(t, "🍧 Hello", b.Title)

	_, err = DecodeBranding([]byte(`{"title":"   "}`))
	assert.Error(t, err)
}

func TestDecodeSettingDispatch(t *testing.T) {
	_, err := DecodeSetting("mystery", []byte(`{}`))
	assert.Error(t, err)

	v, err := DecodeSetting(SettingPricing, []byte(`{"Classic Acai":8}`))
	require.NoError(t, err)
	assert.IsType(t, map[string]float64{}, v)
}

func TestDerivePricing(t *testing.T) {
	groups := []MenuGroup{
		{Options: []MenuOption{{Name: "Classic Acai", Price: 8}, {Name: "Vegan Acai", Price: 8.5}}},
		{Options: []MenuOption{{Name: "Honey"}}},
	}
	table := DerivePricing(groups)
	assert.Len(t, table, 2, "only the first group is priced")
	assert.InDelta(t, 8.0, table["Classic Acai"], 1e-9)

	assert.Empty(t, DerivePricing(nil))
}
