package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cdermott7/onlygrass/models"

	"github.com/jonboulle/clockwork"
)

// scriptedValidator returns whatever the test loaded into it.
type scriptedValidator struct {
	result *ValidationResult
	err    error
	calls  int
}

func (v *scriptedValidator) Validate(ctx context.Context, image []byte, expected ExpectedLocation) (*ValidationResult, error) {
	v.calls++
	if v.err != nil {
		return nil, v.err
	}
	return v.result, nil
}

func positiveValidator(confidence int) *scriptedValidator {
	return &scriptedValidator{result: &ValidationResult{
		Verdict:    VerdictPositive,
		Confidence: confidence,
		Reason:     "grass confirmed",
	}}
}

func negativeValidator() *scriptedValidator {
	return &scriptedValidator{result: &ValidationResult{
		Verdict:    VerdictNegative,
		Confidence: 30,
		Reason:     "that is a parking lot",
	}}
}

func testPatch() models.GrassPatch {
	return models.GrassPatch{
		ID:             "riverside-park",
		Name:           "Riverside Park",
		Latitude:       43.6532,
		Longitude:      -79.3832,
		Address:        "123 Riverside Dr",
		DistanceMeters: 320,
		Difficulty:     1,
		Quality:        models.PatchQualityDecent,
	}
}

// seedUser overwrites the stored aggregate so tests can start mid-history.
func seedUser(s *MemStore, u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ExternalUserID] = &cp
}

func TestCreateChallenge_SingleActiveInvariant(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	first, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.Status != models.ChallengeActive {
		t.Fatalf("status = %s, want ACTIVE", first.Status)
	}
	if got := first.ExpiresAt.Sub(first.StartedAt); got != ChallengeWindow {
		t.Fatalf("window = %v, want %v", got, ChallengeWindow)
	}
	// snapshot must be complete enough to render without a second fetch
	if first.PatchName != "Riverside Park" || first.PatchLatitude == 0 || first.PatchAddress == "" {
		t.Fatalf("patch snapshot incomplete: %+v", first)
	}

	if _, err := engine.CreateChallenge(ctx, "u1", testPatch()); !errors.Is(err, ErrChallengeConflict) {
		t.Fatalf("second create err = %v, want ErrChallengeConflict", err)
	}

	// a different user is unaffected
	if _, err := engine.CreateChallenge(ctx, "u2", testPatch()); err != nil {
		t.Fatalf("other user create: %v", err)
	}
}

func TestCreateChallenge_SweepsStaleActive(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	stale, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(ChallengeWindow + 10*time.Minute)

	fresh, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("create after expiry: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Fatal("expected a new challenge record")
	}

	swept, err := store.GetChallenge(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if swept.Status != models.ChallengeExpired {
		t.Fatalf("stale status = %s, want EXPIRED", swept.Status)
	}
	if swept.PointsAwarded != -FailurePenalty {
		t.Fatalf("stale points = %d, want %d", swept.PointsAwarded, -FailurePenalty)
	}

	// expiry penalty applied, floored at zero
	u, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.FHIScore != 0 || u.Streak != 0 {
		t.Fatalf("user after expiry = fhi %d streak %d, want 0/0", u.FHIScore, u.Streak)
	}
}

func TestCreateChallenge_ConflictWhileStillLive(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	first, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(50 * time.Minute) // still inside the window

	if _, err := engine.CreateChallenge(ctx, "u1", testPatch()); !errors.Is(err, ErrChallengeConflict) {
		t.Fatalf("err = %v, want ErrChallengeConflict", err)
	}

	ch, _ := store.GetChallenge(ctx, first.ID)
	if ch.Status != models.ChallengeActive {
		t.Fatalf("live challenge was disturbed: %s", ch.Status)
	}
}

func TestGetActiveChallenge_ExpiryMonotonic(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	created, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := engine.GetActiveChallenge(ctx, "u1")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatalf("active = %+v, want challenge %s", active, created.ID)
	}

	clock.Advance(ChallengeWindow)

	// first read past the deadline sweeps it
	active, err = engine.GetActiveChallenge(ctx, "u1")
	if err != nil {
		t.Fatalf("get active after expiry: %v", err)
	}
	if active != nil {
		t.Fatalf("active after expiry = %+v, want nil", active)
	}

	// and it never comes back
	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		if again, _ := engine.GetActiveChallenge(ctx, "u1"); again != nil {
			t.Fatalf("expired challenge resurrected on read %d", i)
		}
	}
	ch, _ := store.GetChallenge(ctx, created.ID)
	if ch.Status != models.ChallengeExpired {
		t.Fatalf("status = %s, want EXPIRED", ch.Status)
	}
}

func TestSubmitProof_PositiveVerdict(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	validator := positiveValidator(90)
	engine := NewChallengeService(store, validator, clock)
	ctx := context.Background()

	seedUser(store, models.User{
		ID: "row-u1", ExternalUserID: "u1",
		FHIScore: 100, Streak: 4, LongestStreak: 4, TotalGrassTouched: 7,
	})

	ch, err := engine.CreateChallenge(ctx, "u1", testPatch())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	outcome, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/uploads/proofs/u1/x.jpg")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !outcome.Completed {
		t.Fatal("outcome not completed")
	}
	if outcome.PointsDelta != 30 { // base 25 + confidence bonus
		t.Fatalf("points = %d, want 30", outcome.PointsDelta)
	}
	u := outcome.User
	if u.FHIScore != 130 || u.Streak != 5 || u.LongestStreak != 5 || u.TotalGrassTouched != 8 {
		t.Fatalf("aggregate = %+v", u)
	}

	got := outcome.Challenge
	if got.Status != models.ChallengeCompleted || !got.Validated || got.CompletedAt == nil {
		t.Fatalf("challenge = %+v", got)
	}
	if got.PointsAwarded != 30 || got.ValidationAttempts != 1 {
		t.Fatalf("points/attempts = %d/%d", got.PointsAwarded, got.ValidationAttempts)
	}
	if got.SubmissionImageURL == nil || *got.SubmissionImageURL == "" {
		t.Fatal("submission image not recorded")
	}

	// streak hit exactly 5 → STREAK_5 unlocks
	found := false
	for _, a := range outcome.Unlocked {
		if a.Code == "STREAK_5" {
			found = true
		}
	}
	if !found {
		t.Fatalf("STREAK_5 not unlocked: %+v", outcome.Unlocked)
	}
	persisted, _ := store.Achievements(ctx, "u1")
	if len(persisted) != 1 || persisted[0].Code != "STREAK_5" {
		t.Fatalf("persisted unlocks = %+v", persisted)
	}
}

func TestSubmitProof_NoBonusAtThreshold(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(80), clock) // not strictly above 80
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	outcome, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.PointsDelta != SuccessBaseAward {
		t.Fatalf("points = %d, want %d", outcome.PointsDelta, SuccessBaseAward)
	}
}

func TestSubmitProof_NegativeVerdict(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, negativeValidator(), clock)
	ctx := context.Background()

	seedUser(store, models.User{
		ID: "row-u1", ExternalUserID: "u1",
		FHIScore: 10, Streak: 3, LongestStreak: 6, TotalGrassTouched: 9,
	})

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	outcome, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if outcome.Completed {
		t.Fatal("negative verdict marked completed")
	}
	if outcome.PointsDelta != -15 {
		t.Fatalf("points = %d, want -15", outcome.PointsDelta)
	}
	u := outcome.User
	if u.FHIScore != 0 { // max(0, 10-15)
		t.Fatalf("fhi = %d, want 0", u.FHIScore)
	}
	if u.Streak != 0 || u.LongestStreak != 6 || u.TotalGrassTouched != 9 {
		t.Fatalf("aggregate = %+v", u)
	}
	if outcome.Challenge.Status != models.ChallengeFailed || outcome.Challenge.Validated {
		t.Fatalf("challenge = %+v", outcome.Challenge)
	}
}

func TestSubmitProof_ValidationFaultIsRetryable(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	validator := &scriptedValidator{err: &ValidationFault{Err: errors.New("vision service unreachable")}}
	engine := NewChallengeService(store, validator, clock)
	ctx := context.Background()

	seedUser(store, models.User{ID: "row-u1", ExternalUserID: "u1", FHIScore: 50, Streak: 2})
	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())

	_, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if !IsValidationFault(err) {
		t.Fatalf("err = %v, want ValidationFault", err)
	}

	// challenge still ACTIVE, attempt counted, no scoring
	after, _ := store.GetChallenge(ctx, ch.ID)
	if after.Status != models.ChallengeActive || after.ValidationAttempts != 1 {
		t.Fatalf("challenge after fault = %+v", after)
	}
	u, _ := store.GetUser(ctx, "u1")
	if u.FHIScore != 50 || u.Streak != 2 {
		t.Fatalf("user mutated on fault: %+v", u)
	}

	// retry succeeds once the service is back
	validator.err = nil
	validator.result = &ValidationResult{Verdict: VerdictPositive, Confidence: 95, Reason: "grass"}
	outcome, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if outcome.Challenge.ValidationAttempts != 2 {
		t.Fatalf("attempts = %d, want 2", outcome.Challenge.ValidationAttempts)
	}
}

func TestSubmitProof_TerminalChallengeIsInvalid(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	if _, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg"); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	before, _ := store.GetUser(ctx, "u1")
	_, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}

	// no side effects: no double scoring, no attempt bump
	after, _ := store.GetUser(ctx, "u1")
	if after.FHIScore != before.FHIScore || after.Streak != before.Streak || after.TotalGrassTouched != before.TotalGrassTouched {
		t.Fatalf("user changed: before %+v after %+v", before, after)
	}
	chAfter, _ := store.GetChallenge(ctx, ch.ID)
	if chAfter.ValidationAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", chAfter.ValidationAttempts)
	}
}

func TestSubmitProof_AfterWindowExpires(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	seedUser(store, models.User{ID: "row-u1", ExternalUserID: "u1", FHIScore: 40})
	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())

	clock.Advance(ChallengeWindow + time.Minute)

	_, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	after, _ := store.GetChallenge(ctx, ch.ID)
	if after.Status != models.ChallengeExpired {
		t.Fatalf("status = %s, want EXPIRED", after.Status)
	}
	u, _ := store.GetUser(ctx, "u1")
	if u.FHIScore != 25 { // 40 - 15, applied exactly once
		t.Fatalf("fhi = %d, want 25", u.FHIScore)
	}
}

func TestFailChallenge_ExplicitAbandon(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	seedUser(store, models.User{ID: "row-u1", ExternalUserID: "u1", FHIScore: 100, Streak: 7, LongestStreak: 7})
	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())

	outcome, err := engine.FailChallenge(ctx, "u1", ch.ID)
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if outcome.Challenge.Status != models.ChallengeFailed || outcome.PointsDelta != -15 {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.User.FHIScore != 85 || outcome.User.Streak != 0 || outcome.User.LongestStreak != 7 {
		t.Fatalf("aggregate = %+v", outcome.User)
	}

	if _, err := engine.FailChallenge(ctx, "u1", ch.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second fail err = %v, want ErrInvalidState", err)
	}
}

func TestScoreFloorAcrossRepeatedFailures(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, negativeValidator(), clock)
	ctx := context.Background()

	seedUser(store, models.User{ID: "row-u1", ExternalUserID: "u1", FHIScore: 20})

	for i := 0; i < 4; i++ {
		ch, err := engine.CreateChallenge(ctx, "u1", testPatch())
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if _, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg"); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		u, _ := store.GetUser(ctx, "u1")
		if u.FHIScore < 0 {
			t.Fatalf("fhi went negative after failure %d: %d", i, u.FHIScore)
		}
	}
	u, _ := store.GetUser(ctx, "u1")
	if u.FHIScore != 0 {
		t.Fatalf("fhi = %d, want 0", u.FHIScore)
	}
}

func TestSubmitProof_WrongUserReadsAsNotFound(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	if _, err := engine.SubmitProof(ctx, "u2", ch.ID, []byte("proof"), "/p.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := engine.SubmitProof(ctx, "u1", "no-such-id", []byte("proof"), "/p.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFinalizeRetriesTransientFaults(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())

	// two transient failures, third attempt lands
	store.FailFinalizes = 2
	outcome, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	if err != nil {
		t.Fatalf("submit with transient faults: %v", err)
	}
	if outcome.Challenge.Status != models.ChallengeCompleted {
		t.Fatalf("status = %s, want COMPLETED", outcome.Challenge.Status)
	}
}

func TestFinalizeSurfacesPersistentFault(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())

	store.FailFinalizes = finalizeRetries + 1
	_, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg")
	var pf *PersistenceFault
	if !errors.As(err, &pf) {
		t.Fatalf("err = %v, want PersistenceFault", err)
	}

	// nothing half-applied: challenge is still ACTIVE, user untouched
	after, _ := store.GetChallenge(ctx, ch.ID)
	if after.Status != models.ChallengeActive {
		t.Fatalf("status = %s, want ACTIVE", after.Status)
	}
	u, _ := store.GetUser(ctx, "u1")
	if u.FHIScore != 0 || u.TotalGrassTouched != 0 {
		t.Fatalf("user mutated despite failed finalize: %+v", u)
	}
}

func TestSweepExpired_Background(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	var ids []string
	for _, user := range []string{"u1", "u2", "u3"} {
		ch, err := engine.CreateChallenge(ctx, user, testPatch())
		if err != nil {
			t.Fatalf("create for %s: %v", user, err)
		}
		ids = append(ids, ch.ID)
	}

	clock.Advance(ChallengeWindow + time.Second)

	swept, err := engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 3 {
		t.Fatalf("swept = %d, want 3", swept)
	}
	for _, id := range ids {
		ch, _ := store.GetChallenge(ctx, id)
		if ch.Status != models.ChallengeExpired {
			t.Fatalf("challenge %s status = %s, want EXPIRED", id, ch.Status)
		}
	}

	// idempotent
	swept, err = engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep swept %d, want 0", swept)
	}
}

func TestAchievementUnlockIsIdempotent(t *testing.T) {
	store := NewMemStore()
	clock := clockwork.NewFakeClock()
	engine := NewChallengeService(store, positiveValidator(90), clock)
	ctx := context.Background()

	ch, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	if _, err := engine.SubmitProof(ctx, "u1", ch.ID, []byte("proof"), "/p.jpg"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// rewind the counter so the FIRST_GRASS threshold fires again
	seedUser(store, models.User{ID: "row-u1", ExternalUserID: "u1", FHIScore: 25, TotalGrassTouched: 0, Streak: 0})

	ch2, _ := engine.CreateChallenge(ctx, "u1", testPatch())
	if _, err := engine.SubmitProof(ctx, "u1", ch2.ID, []byte("proof"), "/p.jpg"); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	unlocks, _ := store.Achievements(ctx, "u1")
	count := 0
	for _, a := range unlocks {
		if a.Code == "FIRST_GRASS" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("FIRST_GRASS unlocked %d times, want 1", count)
	}
}
