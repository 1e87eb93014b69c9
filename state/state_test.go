package state

import (
	"testing"

	"github.com/airchains-network/evm-ledger/db"
	"github.com/airchains-network/evm-ledger/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newTestLedger(t *testing.T) (*Ledger, *db.LevelDB) {
	t.Helper()
	database, err := db.NewMemLevelDB()
	require.NoError(t, err)
	l, err := Open(database, logrus.New())
	require.NoError(t, err)
	return l, database
}

func TestLedgerPersistsCommittedState(t *testing.T) {
	l, database := newTestLedger(t)

	ov := l.Overlay()
	ov.SetBalance(alice, uint256.NewInt(1000))
	ov.SetNonce(alice, 3)
	require.NoError(t, ov.SetCode(bob, []byte{0x60, 0x00}))
	ov.SetStorage(bob, common.HexToHash("0x01"), common.HexToHash("0xff"))
	require.NoError(t, ov.Commit())

	reopened, err := Open(database, nil)
	require.NoError(t, err)

	acc := reopened.Account(alice)
	require.Equal(t, uint64(3), acc.Nonce)
	require.Equal(t, uint64(1000), acc.Balance.Uint64())
	require.Equal(t, []byte{0x60, 0x00}, reopened.Account(bob).Code)
	require.Equal(t, common.HexToHash("0xff"), reopened.Storage(bob, common.HexToHash("0x01")))
	require.Equal(t, StateRoot(l), StateRoot(reopened))
}

func TestLedgerZeroStorageIsDeleted(t *testing.T) {
	l, database := newTestLedger(t)

	ov := l.Overlay()
	ov.SetStorage(bob, common.HexToHash("0x01"), common.HexToHash("0x02"))
	require.NoError(t, ov.Commit())

	ov = l.Overlay()
	ov.SetStorage(bob, common.HexToHash("0x01"), common.Hash{})
	require.NoError(t, ov.Commit())

	require.Empty(t, l.StorageOf(bob))
	reopened, err := Open(database, nil)
	require.NoError(t, err)
	require.Empty(t, reopened.StorageOf(bob))
}

func TestLedgerSelfDestructRemovesAccount(t *testing.T) {
	l, database := newTestLedger(t)

	ov := l.Overlay()
	ov.SetBalance(bob, uint256.NewInt(5))
	ov.SetStorage(bob, common.HexToHash("0x01"), common.HexToHash("0x02"))
	require.NoError(t, ov.Commit())

	ov = l.Overlay()
	ov.SelfDestruct(bob)
	require.NoError(t, ov.Commit())

	require.NotContains(t, l.Addresses(), bob)
	require.Empty(t, l.StorageOf(bob))
	reopened, err := Open(database, nil)
	require.NoError(t, err)
	require.NotContains(t, reopened.Addresses(), bob)
	require.Equal(t, common.Hash{}, reopened.Storage(bob, common.HexToHash("0x01")))
}

func TestApplyGenesisOnce(t *testing.T) {
	l, database := newTestLedger(t)

	accounts := []types.GenesisAccount{{
		Address: alice,
		Balance: uint256.NewInt(1_000_000_000_000_000),
		Nonce:   1,
		Code:    []byte{0x00},
		Storage: map[common.Hash]common.Hash{common.HexToHash("0x01"): common.HexToHash("0x07")},
	}}
	require.NoError(t, l.ApplyGenesis(accounts))
	require.True(t, l.GenesisApplied())
	require.ErrorIs(t, l.ApplyGenesis(accounts), ErrGenesisApplied)

	reopened, err := Open(database, nil)
	require.NoError(t, err)
	require.True(t, reopened.GenesisApplied())
	require.ErrorIs(t, reopened.ApplyGenesis(accounts), ErrGenesisApplied)

	acc := reopened.Account(alice)
	require.Equal(t, uint64(1), acc.Nonce)
	require.Equal(t, uint64(1_000_000_000_000_000), acc.Balance.Uint64())
	require.Equal(t, []byte{0x00}, acc.Code)
	require.Equal(t, common.HexToHash("0x07"), reopened.Storage(alice, common.HexToHash("0x01")))
}

func TestApplyGenesisRejectsDuplicateCode(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.ApplyGenesis([]types.GenesisAccount{
		{Address: alice, Code: []byte{0x00}},
		{Address: alice, Code: []byte{0x01}},
	})
	require.ErrorIs(t, err, ErrCodeAlreadySet)
	require.False(t, l.GenesisApplied())
	require.Empty(t, l.Addresses())
}
