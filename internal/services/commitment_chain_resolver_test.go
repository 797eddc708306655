package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pool-backend/internal/clients"
	"pool-backend/internal/types"
	"pool-backend/internal/utils"
)

var resolverViewingKey = common.HexToHash("0x4a5b6c7d8e9f0a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b")

// fakeIndexerServer serves the indexer's by-scope routes from in-memory
// fixtures. pageSize controls the server-side page length so the resolver's
// pagination loop can be exercised; zero serves everything on page one.
type fakeIndexerServer struct {
	t            *testing.T
	pageSize     int
	deposits     map[string][]clients.DepositEventRecord
	spends       map[string][]clients.SpendEventRecord
	ragequits    map[string][]clients.RagequitEventRecord
	failDeposits map[string]bool
}

func newFakeIndexerServer(t *testing.T) *fakeIndexerServer {
	return &fakeIndexerServer{
		t:            t,
		deposits:     make(map[string][]clients.DepositEventRecord),
		spends:       make(map[string][]clients.SpendEventRecord),
		ragequits:    make(map[string][]clients.RagequitEventRecord),
		failDeposits: make(map[string]bool),
	}
}

func (f *fakeIndexerServer) page(total, page int) (int, int, clients.Pagination) {
	size := f.pageSize
	if size <= 0 {
		size = total
		if size == 0 {
			size = 1
		}
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end, clients.Pagination{
		Page:       page,
		Limit:      size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
		HasMore:    end < total,
	}
}

func (f *fakeIndexerServer) handle(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/api/data/deposits/by-scope/"):
		scope := strings.TrimPrefix(r.URL.Path, "/api/data/deposits/by-scope/")
		if f.failDeposits[scope] {
			http.Error(w, "indexer unavailable", http.StatusInternalServerError)
			return
		}
		all := f.deposits[scope]
		start, end, pg := f.page(len(all), page)
		writeJSON(f.t, w, clients.DepositsByScopeResponse{Deposits: all[start:end], Pagination: pg})
	case strings.HasPrefix(r.URL.Path, "/api/data/spends/by-scope/"):
		scope := strings.TrimPrefix(r.URL.Path, "/api/data/spends/by-scope/")
		all := f.spends[scope]
		start, end, pg := f.page(len(all), page)
		writeJSON(f.t, w, clients.SpendsByScopeResponse{Spends: all[start:end], Pagination: pg})
	case strings.HasPrefix(r.URL.Path, "/api/data/ragequits/by-scope/"):
		scope := strings.TrimPrefix(r.URL.Path, "/api/data/ragequits/by-scope/")
		all := f.ragequits[scope]
		start, end, pg := f.page(len(all), page)
		writeJSON(f.t, w, clients.RagequitsByScopeResponse{Ragequits: all[start:end], Pagination: pg})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeIndexerServer) resolver() *CommitmentChainResolver {
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	f.t.Cleanup(srv.Close)
	client := &clients.IndexerClient{BaseURL: srv.URL, Client: srv.Client()}
	return NewCommitmentChainResolver(client, testLogger())
}

// depositFor builds a deposit record whose precommitment matches the viewing
// key's derived secrets at the given scan index, so the resolver claims it.
func depositFor(d *utils.PoolDeployment, index uint64, label, commitment, value string, block uint64) clients.DepositEventRecord {
	nullifier, secret := utils.DeriveDepositKeys(resolverViewingKey, d.ScopeHash, index)
	return clients.DepositEventRecord{
		ChainID:           d.ChainID,
		Label:             common.HexToHash(label).Hex(),
		CommitmentHash:    common.HexToHash(commitment).Hex(),
		PrecommitmentHash: utils.ComputePrecommitmentHash(nullifier, secret).Hex(),
		Value:             value,
		BlockNumber:       block,
		TransactionHash:   common.HexToHash("0xfee1").Hex(),
	}
}

// spendFrom builds a spend that reveals the parent commitment's nullifier
// hash, i.e. one that chains.
func spendFrom(parentNullifier common.Hash, label, newCommitment, withdrawn string, block uint64) clients.SpendEventRecord {
	return clients.SpendEventRecord{
		Label:              common.HexToHash(label).Hex(),
		SpentNullifierHash: utils.ComputeNullifierHash(parentNullifier).Hex(),
		NewCommitmentHash:  common.HexToHash(newCommitment).Hex(),
		WithdrawnValue:     withdrawn,
		BlockNumber:        block,
	}
}

func resolveOne(t *testing.T, f *fakeIndexerServer, deployments ...*utils.PoolDeployment) map[common.Hash][]*types.CommitmentChain {
	t.Helper()
	out, err := f.resolver().GetCommitmentHistory(context.Background(), deployments, types.SecretMaterial{ViewingKey: resolverViewingKey})
	require.NoError(t, err)
	return out
}

func TestResolveLinksDepositAndSpends(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()
	label := common.HexToHash("0xa1")

	f := newFakeIndexerServer(t)
	f.deposits[scope] = []clients.DepositEventRecord{
		depositFor(d, 0, "0xa1", "0xc0", "100", 10),
		{ // someone else's deposit, underivable precommitment
			Label:             common.HexToHash("0xee").Hex(),
			CommitmentHash:    common.HexToHash("0xcf").Hex(),
			PrecommitmentHash: common.HexToHash("0xdeadbeef").Hex(),
			Value:             "500",
			BlockNumber:       11,
		},
	}

	depositNullifier, depositSecret := utils.DeriveDepositKeys(resolverViewingKey, d.ScopeHash, 0)
	child1Nullifier, child1Secret := utils.DeriveSpendKeys(resolverViewingKey, label, 1)
	// Listed out of block order on purpose; linking must sort by block first.
	f.spends[scope] = []clients.SpendEventRecord{
		spendFrom(child1Nullifier, "0xa1", "0xc2", "10", 30),
		spendFrom(depositNullifier, "0xa1", "0xc1", "40", 20),
	}

	out := resolveOne(t, f, d)
	require.Len(t, out, 1)
	chains := out[d.ScopeHash]
	require.Len(t, chains, 1)

	root := chains[0].Root
	require.Equal(t, common.HexToHash("0xc0"), root.Hash)
	require.Equal(t, "100", root.Value.String())
	require.Equal(t, depositNullifier, root.Nullifier)
	require.Equal(t, depositSecret, root.Secret)

	require.Len(t, chains[0].Children, 2)
	require.Equal(t, common.HexToHash("0xc1"), chains[0].Children[0].Hash)
	require.Equal(t, "60", chains[0].Children[0].Value.String())
	require.Equal(t, child1Nullifier, chains[0].Children[0].Nullifier)
	require.Equal(t, child1Secret, chains[0].Children[0].Secret)
	require.Equal(t, common.HexToHash("0xc2"), chains[0].Children[1].Hash)
	require.Equal(t, "50", chains[0].Children[1].Value.String())
	require.Equal(t, common.HexToHash("0xc2"), chains[0].Current().Hash)
}

func TestResolveTruncatesAtNonChainingSpend(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.deposits[scope] = []clients.DepositEventRecord{depositFor(d, 0, "0xa1", "0xc0", "100", 10)}

	depositNullifier, _ := utils.DeriveDepositKeys(resolverViewingKey, d.ScopeHash, 0)
	f.spends[scope] = []clients.SpendEventRecord{
		spendFrom(depositNullifier, "0xa1", "0xc1", "40", 20),
		{ // does not reveal the child's nullifier hash
			Label:              common.HexToHash("0xa1").Hex(),
			SpentNullifierHash: common.HexToHash("0x9999").Hex(),
			NewCommitmentHash:  common.HexToHash("0xc2").Hex(),
			WithdrawnValue:     "10",
			BlockNumber:        30,
		},
	}

	out := resolveOne(t, f, d)
	chains := out[d.ScopeHash]
	require.Len(t, chains, 1)
	require.Len(t, chains[0].Children, 1)
	require.Equal(t, common.HexToHash("0xc1"), chains[0].Current().Hash)
}

func TestResolveMultipleDepositsSortedByRootBlock(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.deposits[scope] = []clients.DepositEventRecord{
		depositFor(d, 0, "0xa1", "0xc0", "100", 50),
		depositFor(d, 1, "0xa2", "0xc9", "30", 5),
	}

	out := resolveOne(t, f, d)
	chains := out[d.ScopeHash]
	require.Len(t, chains, 2)
	require.Equal(t, uint64(5), chains[0].Root.BlockNumber)
	require.Equal(t, common.HexToHash("0xc9"), chains[0].Root.Hash)
	require.Equal(t, uint64(50), chains[1].Root.BlockNumber)
}

func TestResolveFollowsPagination(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.pageSize = 1
	f.deposits[scope] = []clients.DepositEventRecord{
		depositFor(d, 0, "0xa1", "0xc0", "100", 10),
		depositFor(d, 1, "0xa2", "0xc9", "30", 20),
	}

	out := resolveOne(t, f, d)
	require.Len(t, out[d.ScopeHash], 2)
}

func TestResolveScopeOutageIsIsolated(t *testing.T) {
	d1 := testDeployment(t, 1)
	d100 := testDeployment(t, 100)

	f := newFakeIndexerServer(t)
	f.deposits[d1.ScopeHash.Hex()] = []clients.DepositEventRecord{depositFor(d1, 0, "0xa1", "0xc0", "100", 10)}
	f.failDeposits[d100.ScopeHash.Hex()] = true

	out := resolveOne(t, f, d1, d100)
	require.Len(t, out, 1)
	require.Contains(t, out, d1.ScopeHash)
	require.NotContains(t, out, d100.ScopeHash)
}

func TestResolveOverdrawDepositSkipped(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.deposits[scope] = []clients.DepositEventRecord{
		depositFor(d, 0, "0xa1", "0xc0", "50", 10),
		depositFor(d, 1, "0xa2", "0xc9", "30", 15),
	}

	depositNullifier, _ := utils.DeriveDepositKeys(resolverViewingKey, d.ScopeHash, 0)
	// A spend claiming more than the deposit holds poisons only that chain.
	f.spends[scope] = []clients.SpendEventRecord{
		spendFrom(depositNullifier, "0xa1", "0xc1", "80", 20),
	}

	out := resolveOne(t, f, d)
	chains := out[d.ScopeHash]
	require.Len(t, chains, 1)
	require.Equal(t, common.HexToHash("0xc9"), chains[0].Root.Hash)
}

func TestResolveGapLimitBoundsScan(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.deposits[scope] = []clients.DepositEventRecord{
		depositFor(d, 5, "0xa1", "0xc5", "10", 10),
		// 20 consecutive misses past index 5 end the scan before index 26.
		depositFor(d, 26, "0xa2", "0xcf", "10", 20),
	}

	out := resolveOne(t, f, d)
	chains := out[d.ScopeHash]
	require.Len(t, chains, 1)
	require.Equal(t, common.HexToHash("0xc5"), chains[0].Root.Hash)
}

func TestFetchRagequitsMapsIndexerRecords(t *testing.T) {
	d := testDeployment(t, 1)
	scope := d.ScopeHash.Hex()

	f := newFakeIndexerServer(t)
	f.pageSize = 1
	f.ragequits[scope] = []clients.RagequitEventRecord{
		{
			ChainID:         1,
			Label:           common.HexToHash("0xa1").Hex(),
			CommitmentHash:  common.HexToHash("0xc1").Hex(),
			BlockNumber:     120,
			TransactionHash: common.HexToHash("0xf1").Hex(),
		},
		{
			ChainID:         1,
			Label:           common.HexToHash("0xa2").Hex(),
			CommitmentHash:  common.HexToHash("0xc2").Hex(),
			BlockNumber:     130,
			TransactionHash: common.HexToHash("0xf2").Hex(),
		},
	}

	events, err := f.resolver().FetchRagequits(context.Background(), d)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, d.ScopeHash, events[0].Scope)
	require.Equal(t, common.HexToHash("0xa1"), events[0].Label)
	require.Equal(t, common.HexToHash("0xc1"), events[0].CommitmentHash)
	require.Equal(t, uint64(120), events[0].BlockNumber)
	require.Equal(t, common.HexToHash("0xf1"), events[0].TxHash)
	require.Equal(t, uint64(130), events[1].BlockNumber)
}
