package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInflightSponsorshipExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	s := &InflightSponsorship{ValidUntil: uint64(now.Unix())}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Second)))

	// Zero validUntil never expires
	open := &InflightSponsorship{}
	assert.False(t, open.Expired(now.Add(24*time.Hour)))
}
