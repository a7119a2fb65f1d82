package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashmarket/internal/domain"
)

// --- in-memory fakes ---

type memMarkets struct {
	m         map[common.Hash]domain.Market
	updateErr error
}

func newMemMarkets() *memMarkets {
	return &memMarkets{m: make(map[common.Hash]domain.Market)}
}

func (s *memMarkets) Create(_ context.Context, m domain.Market) error {
	if _, ok := s.m[m.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.m[m.ID] = m
	return nil
}

func (s *memMarkets) GetByID(_ context.Context, id common.Hash) (domain.Market, error) {
	m, ok := s.m[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarkets) Update(_ context.Context, m domain.Market) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	if _, ok := s.m[m.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[m.ID] = m
	return nil
}

func (s *memMarkets) ListByOutcome(_ context.Context, outcome domain.Outcome, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.m {
		if m.Outcome == outcome {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarkets) ListResolvable(_ context.Context, now int64, limit int) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.m {
		if m.Outcome == domain.OutcomePending && now >= m.ResolvableAt() {
			out = append(out, m)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memMarkets) Count(_ context.Context) (int64, error) {
	return int64(len(s.m)), nil
}

type memPositions struct {
	m         map[common.Hash]domain.Position
	createErr error
}

func newMemPositions() *memPositions {
	return &memPositions{m: make(map[common.Hash]domain.Position)}
}

func (s *memPositions) Create(_ context.Context, p domain.Position) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.m[p.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.m[p.ID] = p
	return nil
}

func (s *memPositions) Get(_ context.Context, id common.Hash) (domain.Position, error) {
	p, ok := s.m[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositions) Update(_ context.Context, p domain.Position) error {
	if _, ok := s.m[p.ID]; !ok {
		return domain.ErrNotFound
	}
	s.m[p.ID] = p
	return nil
}

func (s *memPositions) ListByMarket(_ context.Context, market common.Hash, _ domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.m {
		if p.MarketID == market {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPositions) ListByOwner(_ context.Context, owner common.Address, _ domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range s.m {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

type memAccount struct {
	balance   uint64
	custodian common.Hash
}

type memLedger struct {
	accounts map[common.Hash]*memAccount
}

func newMemLedger() *memLedger {
	return &memLedger{accounts: make(map[common.Hash]*memAccount)}
}

func (l *memLedger) fund(id common.Hash, amount uint64) {
	if a, ok := l.accounts[id]; ok {
		a.balance += amount
		return
	}
	l.accounts[id] = &memAccount{balance: amount}
}

func (l *memLedger) CreateAccount(_ context.Context, id common.Hash, custodian common.Hash) error {
	if _, ok := l.accounts[id]; ok {
		return nil
	}
	l.accounts[id] = &memAccount{custodian: custodian}
	return nil
}

func (l *memLedger) Balance(_ context.Context, id common.Hash) (uint64, error) {
	a, ok := l.accounts[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return a.balance, nil
}

func (l *memLedger) Transfer(_ context.Context, from, to common.Hash, amount uint64) error {
	return l.move(from, to, amount, nil)
}

func (l *memLedger) TransferAsCustodian(_ context.Context, custodian common.Hash, vault, to common.Hash, amount uint64) error {
	return l.move(vault, to, amount, &custodian)
}

func (l *memLedger) move(from, to common.Hash, amount uint64, custodian *common.Hash) error {
	src, ok := l.accounts[from]
	if !ok {
		return domain.ErrNotFound
	}
	dst, ok := l.accounts[to]
	if !ok {
		return domain.ErrNotFound
	}
	if custodian != nil && src.custodian != *custodian {
		return domain.ErrInvalidCustodian
	}
	if src.balance < amount {
		return domain.ErrInsufficientFunds
	}
	src.balance -= amount
	dst.balance += amount
	return nil
}

type stubOracle struct {
	reading domain.PriceReading
	err     error
}

func (o *stubOracle) Latest(context.Context, string) (domain.PriceReading, error) {
	if o.err != nil {
		return domain.PriceReading{}, o.err
	}
	return o.reading, nil
}

// --- fixture ---

var (
	testNamespace = ethcrypto.Keccak256Hash([]byte("flashmarket-test"))

	creatorAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	keeperAddr  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	aliceAddr   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	bobAddr     = common.HexToAddress("0x4000000000000000000000000000000000000004")
)

type fixture struct {
	engine    *Engine
	markets   *memMarkets
	positions *memPositions
	ledger    *memLedger
	oracle    *stubOracle
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		markets:   newMemMarkets(),
		positions: newMemPositions(),
		ledger:    newMemLedger(),
		oracle:    &stubOracle{},
		clock:     time.Unix(1_700_000_000, 0).UTC(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = New(
		Config{Namespace: testNamespace, MaxReadingAge: time.Minute},
		f.markets, f.positions, f.ledger, f.oracle, nil, nil, nil, logger,
	)
	f.engine.SetClock(func() time.Time { return f.clock })
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *fixture) fundHolding(owner common.Address, amount uint64) {
	f.ledger.fund(domain.HoldingAccount(testNamespace, owner), amount)
}

func (f *fixture) holdingBalance(t *testing.T, owner common.Address) uint64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), domain.HoldingAccount(testNamespace, owner))
	require.NoError(t, err)
	return bal
}

func defaultParams() CreateMarketParams {
	return CreateMarketParams{
		AssetName:        "SOL/USD",
		StrikePrice:      4_200_000,
		DurationSecs:     3600,
		CutoffBufferSecs: 60,
		GraceSecs:        30,
		MaxDelaySecs:     7200,
		Keeper:           keeperAddr,
		OracleFeed:       "sol-usd",
	}
}

func (f *fixture) createMarket(t *testing.T) domain.Market {
	t.Helper()
	m, err := f.engine.CreateMarket(context.Background(), creatorAddr, defaultParams())
	require.NoError(t, err)
	return m
}

func (f *fixture) goodReading(price int64) {
	f.oracle.reading = domain.PriceReading{
		Price:       price,
		Expo:        -2,
		Conf:        0,
		PublishTime: f.clock,
	}
}

// --- CreateMarket ---

func TestCreateMarket_DerivesIDAndDeadlines(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	assert.Equal(t, domain.MarketID(testNamespace, creatorAddr), m.ID)
	assert.Equal(t, domain.OutcomePending, m.Outcome)
	assert.Equal(t, f.clock.Unix()+3600, m.ExpiryTs)
	assert.Equal(t, m.ExpiryTs-60, m.BettingCutoff())
	assert.Equal(t, m.ExpiryTs+30, m.ResolvableAt())
	assert.Equal(t, m.ExpiryTs+7200, m.RefundableAt())
	assert.Zero(t, m.YesPool)
	assert.Zero(t, m.NoPool)
}

func TestCreateMarket_ProvisionsVaults(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		vault := domain.VaultAccount(testNamespace, m.ID, side)
		acct, ok := f.ledger.accounts[vault]
		require.True(t, ok, "vault %s not provisioned", side)
		assert.Equal(t, m.ID, acct.custodian)
	}
}

func TestCreateMarket_SecondPerCreatorRejected(t *testing.T) {
	f := newFixture(t)
	f.createMarket(t)

	_, err := f.engine.CreateMarket(context.Background(), creatorAddr, defaultParams())
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateMarket_InvalidInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := defaultParams()
	p.AssetName = ""
	_, err := f.engine.CreateMarket(ctx, creatorAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	p = defaultParams()
	p.StrikePrice = 0
	_, err = f.engine.CreateMarket(ctx, creatorAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	p = defaultParams()
	p.DurationSecs = 0
	_, err = f.engine.CreateMarket(ctx, creatorAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	p = defaultParams()
	p.Keeper = common.Address{}
	_, err = f.engine.CreateMarket(ctx, creatorAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreateMarket_DurationOverflow(t *testing.T) {
	f := newFixture(t)
	p := defaultParams()
	p.DurationSecs = 1<<63 - 1
	_, err := f.engine.CreateMarket(context.Background(), creatorAddr, p)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

// --- PlaceBet ---

func TestPlaceBet_DebitsStakeIntoVault(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	pos, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	assert.Equal(t, uint64(100), pos.Amount)
	assert.Equal(t, domain.SideYes, pos.Side)
	assert.False(t, pos.Claimed)
	assert.Equal(t, uint64(0), f.holdingBalance(t, aliceAddr))

	vault := domain.VaultAccount(testNamespace, m.ID, domain.SideYes)
	bal, err := f.ledger.Balance(context.Background(), vault)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), bal)

	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stored.YesPool)
	assert.Equal(t, uint64(0), stored.NoPool)
}

func TestPlaceBet_TopUpSameSide(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 150)

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	pos, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 50, domain.SideYes)
	require.NoError(t, err)

	assert.Equal(t, uint64(150), pos.Amount)
	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), stored.YesPool)
}

func TestPlaceBet_SideMismatch(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 200)

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	_, err = f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideNo)
	assert.ErrorIs(t, err, domain.ErrSideMismatch)
}

func TestPlaceBet_AfterCutoff(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	// One second past the cutoff.
	f.advance(3600*time.Second - 59*time.Second)
	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrBettingClosed)
}

func TestPlaceBet_AtCutoffAccepted(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	// Exactly at expiry - cutoff_buffer the bet still lands.
	f.advance(3600*time.Second - 60*time.Second)
	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	assert.NoError(t, err)
}

func TestPlaceBet_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 0, domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestPlaceBet_InvalidSide(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.Side("maybe"))
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
}

func TestPlaceBet_InsufficientFunds(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 50)

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Failed transfer leaves no bookkeeping behind.
	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.YesPool)
	_, err = f.positions.Get(context.Background(), domain.PositionID(testNamespace, m.ID, aliceAddr))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBet_PositionWriteFailureReturnsStake(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 500)
	f.positions.createErr = errors.New("connection reset")

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.Error(t, err)

	// The debited stake came back and the pool counter was restored.
	assert.Equal(t, uint64(500), f.holdingBalance(t, aliceAddr))
	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.YesPool)
	vault, err := f.ledger.Balance(context.Background(), domain.VaultAccount(testNamespace, m.ID, domain.SideYes))
	require.NoError(t, err)
	assert.Zero(t, vault)
}

func TestPlaceBet_PoolWriteFailureReturnsStake(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 500)
	f.markets.updateErr = errors.New("connection reset")

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.Error(t, err)

	assert.Equal(t, uint64(500), f.holdingBalance(t, aliceAddr))
	_, err = f.positions.Get(context.Background(), domain.PositionID(testNamespace, m.ID, aliceAddr))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBet_UnknownMarket(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, common.HexToHash("0xdead"), 100, domain.SideYes)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// --- ResolveMarket ---

func TestResolveMarket_AboveStrikeSettlesYes(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000) // normalizes to 4_300_000 > 4_200_000 strike

	resolved, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeYes, resolved.Outcome)
	assert.Equal(t, uint64(4_300_000), resolved.SettlementPrice)
}

func TestResolveMarket_AtStrikeSettlesNo(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(42_000) // exactly the strike is not above it

	resolved, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNo, resolved.Outcome)
	assert.Equal(t, uint64(4_200_000), resolved.SettlementPrice)
}

func TestResolveMarket_BeforeGraceWindow(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 29*time.Second)
	f.goodReading(43_000)

	_, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotExpired)
}

func TestResolveMarket_WrongKeeper(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)

	_, err := f.engine.ResolveMarket(context.Background(), aliceAddr, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidKeeper)
}

func TestResolveMarket_SecondAttemptRejected(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)

	_, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	require.NoError(t, err)
	_, err = f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
}

func TestResolveMarket_StaleReadingKeepsPending(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.oracle.reading = domain.PriceReading{
		Price:       43_000,
		Expo:        -2,
		PublishTime: f.clock.Add(-2 * time.Minute),
	}

	_, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	assert.ErrorIs(t, err, domain.ErrStaleOracleReading)

	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, stored.Outcome)
}

func TestResolveMarket_WideConfidenceKeepsPending(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)

	f.advance(3600*time.Second + 30*time.Second)
	f.oracle.reading = domain.PriceReading{
		Price:       43_000,
		Expo:        -2,
		Conf:        2_200, // > 5% of 43_000
		PublishTime: f.clock,
	}

	_, err := f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOracleConfidence)

	stored, err := f.markets.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomePending, stored.Outcome)
}

func TestResolveMarket_SweepsLosingVault(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)
	f.fundHolding(bobAddr, 300)

	_, err := f.engine.PlaceBet(context.Background(), aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	_, err = f.engine.PlaceBet(context.Background(), bobAddr, m.ID, 300, domain.SideNo)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(context.Background(), keeperAddr, m.ID)
	require.NoError(t, err)

	yesVault := domain.VaultAccount(testNamespace, m.ID, domain.SideYes)
	noVault := domain.VaultAccount(testNamespace, m.ID, domain.SideNo)
	yesBal, err := f.ledger.Balance(context.Background(), yesVault)
	require.NoError(t, err)
	noBal, err := f.ledger.Balance(context.Background(), noVault)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), yesBal)
	assert.Equal(t, uint64(0), noBal)
}

// --- ClaimWinnings ---

func TestClaimWinnings_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)
	f.fundHolding(bobAddr, 300)

	ctx := context.Background()
	alicePos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	bobPos, err := f.engine.PlaceBet(ctx, bobAddr, m.ID, 300, domain.SideNo)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)

	// The sole Yes winner takes the whole 400 pot.
	payout, err := f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, alicePos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), payout)
	assert.Equal(t, uint64(400), f.holdingBalance(t, aliceAddr))

	// Bob lost; there is nothing for him to claim or refund.
	_, err = f.engine.ClaimWinnings(ctx, bobAddr, m.ID, bobPos.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidSideForPayout)
	_, err = f.engine.RefundUnsettlable(ctx, bobAddr, m.ID, bobPos.ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)

	// Pool counters are the historical stakes, untouched by payout.
	stored, err := f.markets.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), stored.YesPool)
	assert.Equal(t, uint64(300), stored.NoPool)
}

func TestClaimWinnings_SecondClaimRejected(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)

	_, err = f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, pos.ID)
	require.NoError(t, err)
	_, err = f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimWinnings_BeforeResolution(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	_, err = f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestClaimWinnings_ForeignPositionRejected(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)

	// Bob presenting Alice's position ID fails the derived-address check.
	_, err = f.engine.ClaimWinnings(ctx, bobAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestClaimWinnings_ProportionalSplit(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)
	f.fundHolding(bobAddr, 300)
	charlie := common.HexToAddress("0x5000000000000000000000000000000000000005")
	f.fundHolding(charlie, 100)

	ctx := context.Background()
	alicePos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	charliePos, err := f.engine.PlaceBet(ctx, charlie, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	_, err = f.engine.PlaceBet(ctx, bobAddr, m.ID, 300, domain.SideNo)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)

	// Equal winners split the 500 pot evenly.
	p1, err := f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, alicePos.ID)
	require.NoError(t, err)
	p2, err := f.engine.ClaimWinnings(ctx, charlie, m.ID, charliePos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), p1)
	assert.Equal(t, uint64(250), p2)
}

// --- RefundUnsettlable ---

func TestRefundUnsettlable_AfterMaxDelay(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)
	f.fundHolding(bobAddr, 300)

	ctx := context.Background()
	alicePos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	bobPos, err := f.engine.PlaceBet(ctx, bobAddr, m.ID, 300, domain.SideNo)
	require.NoError(t, err)

	// The keeper never resolves; past expiry + max_delay stakes come back.
	f.advance(3600*time.Second + 7200*time.Second)

	refund, err := f.engine.RefundUnsettlable(ctx, aliceAddr, m.ID, alicePos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), refund)

	refund, err = f.engine.RefundUnsettlable(ctx, bobAddr, m.ID, bobPos.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), refund)

	assert.Equal(t, uint64(100), f.holdingBalance(t, aliceAddr))
	assert.Equal(t, uint64(300), f.holdingBalance(t, bobAddr))
}

func TestRefundUnsettlable_BeforeMaxDelay(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	f.advance(3600*time.Second + 7199*time.Second)
	_, err = f.engine.RefundUnsettlable(ctx, aliceAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
}

func TestRefundUnsettlable_SecondRefundRejected(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	f.advance(3600*time.Second + 7200*time.Second)
	_, err = f.engine.RefundUnsettlable(ctx, aliceAddr, m.ID, pos.ID)
	require.NoError(t, err)
	_, err = f.engine.RefundUnsettlable(ctx, aliceAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestRefundUnsettlable_ResolvedMarketRejected(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)

	ctx := context.Background()
	pos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)

	// Even past the max delay a resolved market never refunds.
	f.advance(7200 * time.Second)
	_, err = f.engine.RefundUnsettlable(ctx, aliceAddr, m.ID, pos.ID)
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
}

// --- Conservation ---

func TestSettlement_ValueConserved(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t)
	f.fundHolding(aliceAddr, 100)
	f.fundHolding(bobAddr, 300)

	ctx := context.Background()
	alicePos, err := f.engine.PlaceBet(ctx, aliceAddr, m.ID, 100, domain.SideYes)
	require.NoError(t, err)
	_, err = f.engine.PlaceBet(ctx, bobAddr, m.ID, 300, domain.SideNo)
	require.NoError(t, err)

	f.advance(3600*time.Second + 30*time.Second)
	f.goodReading(43_000)
	_, err = f.engine.ResolveMarket(ctx, keeperAddr, m.ID)
	require.NoError(t, err)
	_, err = f.engine.ClaimWinnings(ctx, aliceAddr, m.ID, alicePos.ID)
	require.NoError(t, err)

	var total uint64
	for _, acct := range f.ledger.accounts {
		total += acct.balance
	}
	assert.Equal(t, uint64(400), total)
}
