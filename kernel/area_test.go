package kernel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndCloneShareMemory(t *testing.T) {
	name := uniqueName()

	a, err := CreateArea(name, 8192, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	defer a.Delete()

	assert.Equal(t, name, a.Name())
	assert.Equal(t, DomainArea, a.Domain())
	assert.Equal(t, 8192, a.Size())
	assert.False(t, a.IsClone())
	assert.True(t, AreaExists(name, DomainArea))

	c, err := CloneArea(name, ProtectRead|ProtectWrite, DomainArea)
	require.NoError(t, err)
	defer c.Delete()

	assert.True(t, c.IsClone())
	a.Bytes()[100] = 7
	assert.Equal(t, byte(7), c.Bytes()[100])
	c.Bytes()[200] = 9
	assert.Equal(t, byte(9), a.Bytes()[200])
}

func TestDomainsDoNotCollide(t *testing.T) {
	name := uniqueName()

	a, err := CreateArea(name, 64, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	defer a.Delete()

	_, err = CloneArea(name, ProtectRead, DomainPort)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAreaValidation(t *testing.T) {
	tests := []struct {
		name    string
		area    string
		size    int
		domain  Domain
		wantErr error
	}{
		{name: "empty name", area: "", size: 64, domain: DomainArea, wantErr: ErrBadValue},
		{name: "long name", area: strings.Repeat("x", MaxNameLength+1), size: 64, domain: DomainArea, wantErr: ErrBadValue},
		{name: "zero size", area: uniqueName(), size: 0, domain: DomainArea, wantErr: ErrBadValue},
		{name: "negative size", area: uniqueName(), size: -1, domain: DomainArea, wantErr: ErrBadValue},
		{name: "too large", area: uniqueName(), size: MaxAreaSize + 1, domain: DomainArea, wantErr: ErrNoMemory},
		{name: "bad domain", area: uniqueName(), size: 64, domain: "areas", wantErr: ErrBadValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateArea(tt.area, tt.size, ProtectRead|ProtectWrite, tt.domain, AccessOwner)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCloneMissingArea(t *testing.T) {
	_, err := CloneArea(uniqueName(), ProtectRead, DomainArea)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCreateReplacesStaleArea(t *testing.T) {
	name := uniqueName()

	stale, err := CreateArea(name, 64, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	stale.Bytes()[0] = 1

	// A crashed creator leaves the object behind; a new creator takes over.
	fresh, err := CreateArea(name, 128, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	assert.Equal(t, 128, fresh.Size())
	assert.Equal(t, byte(0), fresh.Bytes()[0])

	require.NoError(t, stale.DeleteEtc(false))
	assert.True(t, AreaExists(name, DomainArea))
	require.NoError(t, fresh.Delete())
	assert.False(t, AreaExists(name, DomainArea))
}

func TestAreaRefcountLifecycle(t *testing.T) {
	name := uniqueName()

	owner, err := CreateArea(name, 64, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)

	clone, err := CloneArea(name, ProtectRead, DomainArea)
	require.NoError(t, err)

	require.NoError(t, clone.Delete())
	assert.True(t, AreaExists(name, DomainArea), "deleting a clone keeps the name")

	require.NoError(t, owner.Delete())
	assert.False(t, AreaExists(name, DomainArea))

	assert.ErrorIs(t, owner.Delete(), ErrBadValue)
	assert.ErrorIs(t, clone.Delete(), ErrDeleted)
	assert.Nil(t, owner.Bytes())
	assert.Zero(t, owner.Size())
}

func TestResize(t *testing.T) {
	name := uniqueName()

	owner, err := CreateArea(name, 8192, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	defer owner.Delete()

	clone, err := CloneArea(name, ProtectRead|ProtectWrite, DomainArea)
	require.NoError(t, err)
	defer clone.Delete()

	assert.ErrorIs(t, clone.Resize(4096), ErrNotAllowed)
	assert.ErrorIs(t, owner.Resize(0), ErrBadValue)
	assert.ErrorIs(t, owner.Resize(MaxAreaSize+1), ErrNoMemory)

	require.NoError(t, owner.Resize(4096))
	assert.Equal(t, 4096, owner.Size())

	// Growing in place depends on the address space after the mapping.
	err = owner.Resize(16384)
	if err != nil {
		assert.ErrorIs(t, err, ErrNoMemory)
	} else {
		assert.Equal(t, 16384, owner.Size())
	}
}

func TestDeleteEtcUnlinksFromClone(t *testing.T) {
	name := uniqueName()

	owner, err := CreateArea(name, 64, ProtectRead|ProtectWrite, DomainArea, AccessOwner)
	require.NoError(t, err)
	clone, err := CloneArea(name, ProtectRead, DomainArea)
	require.NoError(t, err)

	require.NoError(t, clone.DeleteEtc(true))
	assert.False(t, AreaExists(name, DomainArea))

	// The owner's mapping outlives the name.
	owner.Bytes()[0] = 3
	assert.Equal(t, byte(3), owner.Bytes()[0])
	require.NoError(t, owner.DeleteEtc(false))
}
