package ca

import (
	"testing"

	"github.com/hyperledger/fabric-sdk-go/pkg/client/msp"
	"github.com/stretchr/testify/assert"
)

func TestHasAffiliation(t *testing.T) {
	tree := []msp.AffiliationInfo{
		{Name: "org1", Affiliations: []msp.AffiliationInfo{
			{Name: "org1.department1"},
			{Name: "org1.department2", Affiliations: []msp.AffiliationInfo{{Name: "org1.department2.farms"}}},
		}},
		{Name: "org2"},
	}
	assert.True(t, hasAffiliation(tree, "org1.department1"))
	assert.True(t, hasAffiliation(tree, "org1.department2.farms"))
	assert.True(t, hasAffiliation(tree, "org2"))
	assert.False(t, hasAffiliation(tree, "org3"))
	assert.False(t, hasAffiliation(nil, "org1"))
}
