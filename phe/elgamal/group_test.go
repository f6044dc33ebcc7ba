package elgamal

import (
	"math/big"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
)

func TestFixtureGroupsValidate(t *testing.T) {
	require.NoError(t, ToyGroup().Validate())
	require.NoError(t, RFC3526Group2048().Validate())
	require.Equal(t, 2048, RFC3526Group2048().BitLen())
}

func TestValidateReportsEveryViolation(t *testing.T) {
	err := GroupParameters{P: big.NewInt(7921), G: big.NewInt(7920)}.Validate()
	require.ErrorIs(t, err, ErrInvalidGroup)

	merr, ok := err.(*multierror.Error)
	require.True(t, ok)
	require.Len(t, merr.Errors, 2)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		gp   GroupParameters
	}{
		{"missing", GroupParameters{}},
		{"even modulus", GroupParameters{P: big.NewInt(7918), G: big.NewInt(2)}},
		{"tiny modulus", GroupParameters{P: big.NewInt(2), G: big.NewInt(1)}},
		{"composite", GroupParameters{P: big.NewInt(7917), G: big.NewInt(2)}},
		{"generator one", GroupParameters{P: big.NewInt(7919), G: big.NewInt(1)}},
		{"generator p-1", GroupParameters{P: big.NewInt(7919), G: big.NewInt(7918)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.gp.Validate(), ErrInvalidGroup)
		})
	}
}

func TestNewGroupParametersCopies(t *testing.T) {
	p := big.NewInt(7919)
	gp, err := NewGroupParameters(p, big.NewInt(7))
	require.NoError(t, err)
	p.SetInt64(11)
	require.Equal(t, int64(7919), gp.P.Int64())

	_, err = NewGroupParameters(big.NewInt(15), big.NewInt(2))
	require.ErrorIs(t, err, ErrInvalidGroup)
	_, err = NewGroupParameters(nil, big.NewInt(2))
	require.ErrorIs(t, err, ErrInvalidGroup)
}

func TestSubgroupOrder(t *testing.T) {
	_, ok := ToyGroup().SubgroupOrder()
	require.False(t, ok, "7918/2 = 37*107 is not prime")

	q, ok := RFC3526Group2048().SubgroupOrder()
	require.True(t, ok)
	require.Equal(t, 2047, q.BitLen())

	// 23 = 2*11+1 is safe; 2 is a square mod 23, 5 is not.
	_, ok = GroupParameters{P: big.NewInt(23), G: big.NewInt(2)}.SubgroupOrder()
	require.True(t, ok)
	_, ok = GroupParameters{P: big.NewInt(23), G: big.NewInt(5)}.SubgroupOrder()
	require.False(t, ok)
}

func TestGroupEqual(t *testing.T) {
	require.True(t, ToyGroup().Equal(ToyGroup()))
	require.False(t, ToyGroup().Equal(RFC3526Group2048()))
	require.False(t, ToyGroup().Equal(GroupParameters{}))
	require.Equal(t, int64(7917), ToyGroup().MaxMessage().Int64())
}
