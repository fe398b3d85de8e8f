package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/urfave/cli.v1"
)

func newCtx(t *testing.T, args []string) *cli.Context {
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range Flags {
		f.Apply(set)
	}
	require.NoError(t, set.Parse(args))
	return cli.NewContext(nil, set, nil)
}

func TestFromCLIDefaults(t *testing.T) {
	ctx := newCtx(t, nil)
	opt, err := FromCLI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/etc/house/portal.config", opt.ConfigPath)
	assert.Equal(t, 70, opt.PortalUDPPort)
	assert.Equal(t, 80, opt.PortalHTTPPort)
	assert.Equal(t, "home", opt.Group)
	assert.Nil(t, opt.PortalMap)
}

func TestFromCLIParsesPortalMap(t *testing.T) {
	ctx := newCtx(t, []string{"-portal-map", "8080:80"})
	opt, err := FromCLI(ctx)
	require.NoError(t, err)
	require.NotNil(t, opt.PortalMap)
	assert.Equal(t, 8080, opt.PortalMap.Ext)
	assert.Equal(t, 80, opt.PortalMap.Int)
}

func TestFromCLIRejectsMalformedPortalMap(t *testing.T) {
	ctx := newCtx(t, []string{"-portal-map", "bogus"})
	_, err := FromCLI(ctx)
	assert.Error(t, err)
}

func TestFromCLIOverridesGroup(t *testing.T) {
	ctx := newCtx(t, []string{"-group", "lab"})
	opt, err := FromCLI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lab", opt.Group)
}
