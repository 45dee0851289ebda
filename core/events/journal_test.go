package events

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"zkusd/crypto"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "events", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })
	return journal
}

func vaultAddr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[19] = b
	return crypto.NewAddress(crypto.VaultPrefix, raw)
}

func TestJournalAppendsHashChain(t *testing.T) {
	journal := openTestJournal(t)

	journal.Emit(VaultCreated{Vault: vaultAddr(1)})
	journal.Emit(CollateralDeposited{Vault: vaultAddr(1), AmountDeposited: 10})
	journal.Emit(PriceSettled{Round: 0, Price: 1_000_000_000, Submissions: 3, Height: 4})

	head, err := journal.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(3), head)

	entries, err := journal.Entries(0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, TypeVaultNew, entries[0].Type)
	require.Equal(t, entries[0].Hash, entries[1].Prev)
	require.Equal(t, entries[1].Hash, entries[2].Prev)
	require.Equal(t, "10", entries[1].Attributes["amountDeposited"])
	require.NoError(t, journal.Verify())
}

func TestJournalEntriesRange(t *testing.T) {
	journal := openTestJournal(t)
	for i := 0; i < 5; i++ {
		journal.Emit(HaltChanged{Halted: i%2 == 0})
	}
	entries, err := journal.Entries(2, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(2), entries[0].Sequence)
	require.Equal(t, uint64(3), entries[1].Sequence)
}

func TestJournalVerifyDetectsTampering(t *testing.T) {
	journal := openTestJournal(t)
	journal.Emit(ZkUsdMinted{Vault: vaultAddr(2), AmountMinted: 5})
	journal.Emit(ZkUsdBurned{Vault: vaultAddr(2), AmountBurned: 5})
	require.NoError(t, journal.Verify())

	err := journal.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketJournal)
		var entry Entry
		if err := json.Unmarshal(bucket.Get(sequenceKey(1)), &entry); err != nil {
			return err
		}
		entry.Attributes["amountMinted"] = "500"
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(1), encoded)
	})
	require.NoError(t, err)
	require.ErrorIs(t, journal.Verify(), ErrChainBroken)
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := OpenJournal(path, nil)
	require.NoError(t, err)
	journal.Emit(WhitelistUpdated{Version: 1, Members: 3})
	require.NoError(t, journal.Close())

	reopened, err := OpenJournal(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	reopened.Emit(WhitelistUpdated{Version: 2, Members: 4})
	head, err := reopened.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(2), head)
	require.NoError(t, reopened.Verify())
}

func TestJournalDropsEventWhenAppendFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	journal, err := OpenJournal(path, nil)
	require.NoError(t, err)
	journal.Emit(WhitelistUpdated{Version: 1, Members: 3})
	require.NoError(t, journal.Close())

	journal.Emit(WhitelistUpdated{Version: 2, Members: 3})

	reopened, err := OpenJournal(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	head, err := reopened.Head()
	require.NoError(t, err)
	require.Equal(t, uint64(1), head)
	require.NoError(t, reopened.Verify())
}

func TestFanoutDeliversToEveryEmitter(t *testing.T) {
	var first, second []string
	Fanout{
		emitterFunc(func(evt Event) { first = append(first, evt.EventType()) }),
		nil,
		emitterFunc(func(evt Event) { second = append(second, evt.EventType()) }),
	}.Emit(VaultCreated{Vault: vaultAddr(3)})
	require.Equal(t, []string{TypeVaultNew}, first)
	require.Equal(t, []string{TypeVaultNew}, second)
}

type emitterFunc func(Event)

func (f emitterFunc) Emit(evt Event) { f(evt) }
