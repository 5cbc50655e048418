package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"judgeline/internal/common/cache"
	"judgeline/internal/common/mq"
	"judgeline/internal/common/mq/mqtest"
	"judgeline/internal/common/storage"
	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/repository"
	"judgeline/internal/judge/sandbox/result"
	"judgeline/internal/judge/service"
	"judgeline/internal/judge/verdict"
	"judgeline/internal/judge/workspace"
	appErr "judgeline/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	submissionTopic  = "judge.submissions"
	retryTopic       = "judge.submissions.retry"
	deadLetterTopic  = "judge.submissions.dlq"
	resultTopic      = "judge.results"
	leaderboardTopic = "leaderboard.updates"
)

// sumRunner behaves like a correct a+b program.
type sumRunner struct {
	mu        sync.Mutex
	execErr   error
	runs      int
	lastInput string
	// beforeRun is called outside the lock at the start of every run.
	beforeRun func()
}

func (r *sumRunner) Compile(ctx context.Context, ws *workspace.Workspace, lang language.Language) error {
	return nil
}

func (r *sumRunner) Execute(ctx context.Context, ws *workspace.Workspace, lang language.Language, tc model.Testcase, limits model.Constraints) (result.ExecutionResult, error) {
	if r.beforeRun != nil {
		r.beforeRun()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
	r.lastInput = tc.Input
	if r.execErr != nil {
		return result.ExecutionResult{}, r.execErr
	}
	var a, b int
	_, _ = fmt.Sscan(tc.Input, &a, &b)
	return result.ExecutionResult{Stdout: fmt.Sprintf("%d\n", a+b), DurationMs: 15, Outcome: result.OutcomeSuccess}, nil
}

func (r *sumRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type memStorage struct {
	objects map[string][]byte
	gets    int
}

func (m *memStorage) GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.gets++
	data, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	return nil
}

func (m *memStorage) StatObject(ctx context.Context, bucket, objectKey string) (storage.ObjectStat, error) {
	data, ok := m.objects[bucket+"/"+objectKey]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

type harness struct {
	svc    *service.Service
	queue  *mqtest.Queue
	status *repository.StatusRepository
	dedupe *repository.DedupeStore
	runner *sumRunner
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T, mutate func(*service.Config)) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	langs, err := language.NewLocalRegistry(language.Defaults())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	workspaces, err := workspace.NewManager(workspace.Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("workspaces: %v", err)
	}

	h := &harness{
		queue:  mqtest.New(),
		status: repository.NewStatusRepository(c, time.Hour),
		dedupe: repository.NewDedupeStore(c, time.Minute, time.Hour),
		runner: &sumRunner{},
		mr:     mr,
	}
	cfg := service.Config{
		Aggregator:      verdict.NewAggregator(h.runner),
		Languages:       langs,
		Workspaces:      workspaces,
		StatusRepo:      h.status,
		Dedupe:          h.dedupe,
		Publisher:       repository.NewMQEventPublisher(h.queue, resultTopic, leaderboardTopic),
		Queue:           h.queue,
		RetryTopic:      retryTopic,
		DeadLetterTopic: deadLetterTopic,
		Retry:           service.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.svc, err = service.NewService(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return h
}

func submissionMessage(t *testing.T, sub model.Submission) *mq.Message {
	t.Helper()
	body, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg := mq.NewMessage(sub.ID, body)
	msg.SetHeader(repository.TraceHeader, "trace-"+sub.ID)
	return msg
}

func twoSum(id string) model.Submission {
	return model.Submission{
		ID:         id,
		UserID:     "user_90",
		ContestID:  "contest-1",
		ProblemID:  "two-sum",
		Language:   "python3",
		SourceCode: "a, b = map(int, input().split()); print(a + b)",
		Testcases: []model.Testcase{
			{Input: "1 2\n", ExpectedOutput: "3\n"},
			{Input: "20 22\n", ExpectedOutput: "42\n"},
		},
		Constraints: model.Constraints{TimeLimitMs: 1000, MemoryLimitMb: 256, CPULimit: 1},
	}
}

func TestHandleMessageAcceptedSubmission(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := submissionMessage(t, twoSum("sub-1"))

	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}

	status, err := h.status.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != result.StatusFinished || status.Verdict != result.VerdictAC {
		t.Fatalf("expected FINISHED/AC, got %s/%s", status.Status, status.Verdict)
	}

	results := h.queue.Published(resultTopic)
	if len(results) != 1 {
		t.Fatalf("expected one result event, got %d", len(results))
	}
	if trace, _ := results[0].GetHeader(repository.TraceHeader); trace != "trace-sub-1" {
		t.Fatalf("trace id not propagated, got %q", trace)
	}
	var event model.ResultEvent
	if err := json.Unmarshal(results[0].Body, &event); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if event.Verdict != result.VerdictAC || event.DurationMs != 30 || event.FailingTestcaseIndex != nil {
		t.Fatalf("unexpected result event: %+v", event)
	}

	updates := h.queue.Published(leaderboardTopic)
	if len(updates) != 1 {
		t.Fatalf("expected one leaderboard event, got %d", len(updates))
	}
	var lb model.LeaderboardEvent
	if err := json.Unmarshal(updates[0].Body, &lb); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if lb.ContestID != "contest-1" || lb.UserID != "user_90" || lb.Score != 100 || lb.TimeTakenInMs != 30 {
		t.Fatalf("unexpected leaderboard event: %+v", lb)
	}
	if h.mr.Exists("judge:claim:sub-1") {
		t.Fatalf("claim should be released after judging")
	}

	// Redelivery of a finished job is a no-op.
	runs := h.runner.count()
	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if h.runner.count() != runs {
		t.Fatalf("redelivered job was judged again")
	}
	if len(h.queue.Published(resultTopic)) != 1 {
		t.Fatalf("redelivery must not publish another result")
	}
}

func TestHandleMessageWithoutContestSkipsLeaderboard(t *testing.T) {
	h := newHarness(t, nil)
	sub := twoSum("sub-2")
	sub.ContestID = ""
	if err := h.svc.HandleMessage(context.Background(), submissionMessage(t, sub)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := len(h.queue.Published(leaderboardTopic)); got != 0 {
		t.Fatalf("expected no leaderboard events, got %d", got)
	}
}

func TestHandleMessageWrongAnswerScoresPartially(t *testing.T) {
	h := newHarness(t, nil)
	sub := twoSum("sub-3")
	sub.Testcases[1].ExpectedOutput = "41\n"
	if err := h.svc.HandleMessage(context.Background(), submissionMessage(t, sub)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	status, err := h.status.Get(context.Background(), "sub-3")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Verdict != result.VerdictWA || status.FailingTestcaseIndex == nil || *status.FailingTestcaseIndex != 1 {
		t.Fatalf("expected WA at index 1, got %+v", status)
	}
	var lb model.LeaderboardEvent
	if err := json.Unmarshal(h.queue.Published(leaderboardTopic)[0].Body, &lb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lb.Score != 50 {
		t.Fatalf("expected partial score 50, got %d", lb.Score)
	}
}

func TestHandleMessagePoisonIsAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.svc.HandleMessage(ctx, mq.NewMessage("bad", []byte("{not json"))); err != nil {
		t.Fatalf("malformed message must be acked, got %v", err)
	}
	noTests := twoSum("sub-4")
	noTests.Testcases = nil
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, noTests)); err != nil {
		t.Fatalf("invalid message must be acked, got %v", err)
	}
	if len(h.queue.Published(retryTopic)) != 0 || h.runner.count() != 0 {
		t.Fatalf("poison messages must not be retried or judged")
	}
	status, err := h.status.Get(ctx, "sub-4")
	if err != nil || status.Status != result.StatusFailed {
		t.Fatalf("expected FAILED status for invalid submission, got %+v err=%v", status, err)
	}
}

func TestHandleMessageUnsupportedLanguageIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	sub := twoSum("sub-5")
	sub.Language = "cobol"
	if err := h.svc.HandleMessage(context.Background(), submissionMessage(t, sub)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	status, err := h.status.Get(context.Background(), "sub-5")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != result.StatusFailed || status.ErrorCode != int(appErr.LanguageNotSupported) {
		t.Fatalf("unexpected status: %+v", status)
	}
	if len(h.queue.Published(retryTopic)) != 0 {
		t.Fatalf("unsupported language must not be retried")
	}
}

func TestHandleMessageInfrastructureFailureRetriesThenDeadLetters(t *testing.T) {
	h := newHarness(t, nil)
	h.runner.execErr = appErr.New(appErr.SandboxUnavailable).WithMessage("docker daemon unreachable")
	ctx := context.Background()

	if err := h.svc.HandleMessage(ctx, submissionMessage(t, twoSum("sub-6"))); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	retries := h.queue.Published(retryTopic)
	if len(retries) != 1 {
		t.Fatalf("expected one retry, got %d", len(retries))
	}
	if service.ParseAttempt(retries[0].Headers) != 1 {
		t.Fatalf("expected attempt header 1, got %v", retries[0].Headers)
	}
	if got := len(h.queue.Published(resultTopic)); got != 0 {
		t.Fatalf("a retried job must not publish a result, got %d", got)
	}

	if err := h.svc.HandleMessage(ctx, retries[0]); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if h.runner.count() != 2 {
		t.Fatalf("retried job must re-run from compile, runs=%d", h.runner.count())
	}
	if len(h.queue.Published(retryTopic)) != 1 {
		t.Fatalf("exhausted job must not be retried again")
	}
	if len(h.queue.Published(deadLetterTopic)) != 1 {
		t.Fatalf("expected job in dead-letter topic")
	}

	status, err := h.status.Get(ctx, "sub-6")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != result.StatusFailed || status.ErrorCode != int(appErr.RetryExhausted) {
		t.Fatalf("expected FAILED with RetryExhausted, got %+v", status)
	}
	if status.Verdict == result.VerdictRE {
		t.Fatalf("infrastructure failures must never surface as RE")
	}
	var event map[string]any
	if err := json.Unmarshal(h.queue.Published(resultTopic)[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := event["verdict"]; ok || event["status"] != "FAILED" {
		t.Fatalf("unexpected failure event: %v", event)
	}
	if len(h.queue.Published(leaderboardTopic)) != 0 {
		t.Fatalf("failed job must not reach the leaderboard")
	}
}

func TestHandleMessageDefersConcurrentDuplicate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if ok, err := h.dedupe.Claim(ctx, "sub-7", "other-worker"); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}
	msg := submissionMessage(t, twoSum("sub-7"))
	msg.SetHeader(service.AttemptHeader, "1")
	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.runner.count() != 0 {
		t.Fatalf("duplicate must not be judged while claimed")
	}
	if !h.mr.Exists("judge:claim:sub-7") {
		t.Fatalf("foreign claim must survive")
	}
	deferred := h.queue.Published(retryTopic)
	if len(deferred) != 1 {
		t.Fatalf("claimed job must be put back on the retry topic, got %d", len(deferred))
	}
	if service.ParseDeferrals(deferred[0].Headers) != 1 || service.ParseAttempt(deferred[0].Headers) != 1 {
		t.Fatalf("deferral must count separately from attempts, headers=%v", deferred[0].Headers)
	}
	if trace, _ := deferred[0].GetHeader(repository.TraceHeader); trace != "trace-sub-7" {
		t.Fatalf("deferred job lost its trace id, got %q", trace)
	}

	h.queue.PublishErr = fmt.Errorf("broker down")
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, twoSum("sub-7"))); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("failed deferral must not be acknowledged, got %v", err)
	}
}

func TestHandleMessageJudgesAfterStaleClaimExpires(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if ok, err := h.dedupe.Claim(ctx, "sub-9", "crashed-worker"); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, twoSum("sub-9"))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	deferred := h.queue.Published(retryTopic)
	if len(deferred) != 1 || h.runner.count() != 0 {
		t.Fatalf("expected one deferred copy and no runs, got %d copies %d runs", len(deferred), h.runner.count())
	}

	// The crashed holder never refreshes its claim.
	h.mr.FastForward(2 * time.Minute)
	if err := h.svc.HandleMessage(ctx, deferred[0]); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	status, err := h.status.Get(ctx, "sub-9")
	if err != nil || status.Status != result.StatusFinished || status.Verdict != result.VerdictAC {
		t.Fatalf("job must be judged once the stale claim expires, got %+v err=%v", status, err)
	}
	if h.runner.count() != 2 {
		t.Fatalf("expected both testcases to run, runs=%d", h.runner.count())
	}
}

func TestHandleMessageRefreshesClaimWhileJudging(t *testing.T) {
	h := newHarness(t, func(cfg *service.Config) {
		cfg.ClaimRefresh = 5 * time.Millisecond
	})
	ctx := context.Background()
	msg := submissionMessage(t, twoSum("sub-11"))
	const claimKey = "judge:claim:sub-11"

	var once sync.Once
	h.runner.beforeRun = func() {
		once.Do(func() {
			// Claim TTL is a minute; judging runs past it.
			h.mr.FastForward(50 * time.Second)
			if !waitFor(t, func() bool { return h.mr.TTL(claimKey) > 55*time.Second }) {
				t.Errorf("claim was not refreshed, ttl=%v", h.mr.TTL(claimKey))
			}
			h.mr.FastForward(50 * time.Second)
			if !h.mr.Exists(claimKey) {
				t.Errorf("claim lapsed mid-judge")
			}
			// A redelivery arriving now must not judge the job a second time.
			if err := h.svc.HandleMessage(ctx, msg); err != nil {
				t.Errorf("concurrent redelivery: %v", err)
			}
		})
	}

	if err := h.svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.runner.count() != 2 {
		t.Fatalf("job judged more than once, runs=%d", h.runner.count())
	}
	deferred := h.queue.Published(retryTopic)
	if len(deferred) != 1 || service.ParseDeferrals(deferred[0].Headers) != 1 {
		t.Fatalf("expected the redelivery to be deferred, got %d", len(deferred))
	}
	if len(h.queue.Published(resultTopic)) != 1 {
		t.Fatalf("expected exactly one result event")
	}
	if h.mr.Exists(claimKey) {
		t.Fatalf("claim should be released after judging")
	}

	// The deferred copy lands after the job settled.
	if err := h.svc.HandleMessage(ctx, deferred[0]); err != nil {
		t.Fatalf("deferred copy: %v", err)
	}
	if h.runner.count() != 2 || len(h.queue.Published(resultTopic)) != 1 {
		t.Fatalf("settled job must not be judged again")
	}
}

func TestHandleExpiredReportsFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	msg := submissionMessage(t, twoSum("sub-12"))
	msg.Timestamp = time.Now().Add(-2 * time.Hour)
	msg.Expiration = time.Hour

	if err := h.svc.HandleExpired(ctx, msg); err != nil {
		t.Fatalf("handle expired: %v", err)
	}
	if h.runner.count() != 0 {
		t.Fatalf("expired job must not be judged")
	}
	status, err := h.status.Get(ctx, "sub-12")
	if err != nil || status.Status != result.StatusFailed || status.ErrorCode != int(appErr.SubmissionExpired) {
		t.Fatalf("expected FAILED with SubmissionExpired, got %+v err=%v", status, err)
	}
	if got := len(h.queue.Published(deadLetterTopic)); got != 1 {
		t.Fatalf("expired job must be kept on the dead-letter topic, got %d", got)
	}
	results := h.queue.Published(resultTopic)
	if len(results) != 1 {
		t.Fatalf("expected one failure event, got %d", len(results))
	}
	var event map[string]any
	if err := json.Unmarshal(results[0].Body, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event["status"] != "FAILED" {
		t.Fatalf("unexpected failure event: %v", event)
	}
	if len(h.queue.Published(leaderboardTopic)) != 0 {
		t.Fatalf("expired job must not reach the leaderboard")
	}

	// A retry copy that is still fresh must not judge over the failure.
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, twoSum("sub-12"))); err != nil {
		t.Fatalf("fresh copy: %v", err)
	}
	if h.runner.count() != 0 {
		t.Fatalf("expired submission was judged by a later copy")
	}

	if err := h.svc.HandleExpired(ctx, mq.NewMessage("bad", []byte("{not json"))); err != nil {
		t.Fatalf("malformed expired message must be acked, got %v", err)
	}
}

func TestHandleMessageFetchesSourceFromStorage(t *testing.T) {
	store := &memStorage{objects: map[string][]byte{
		"sources/sub-8.py": []byte("print(sum(map(int, input().split())))"),
	}}
	h := newHarness(t, func(cfg *service.Config) {
		cfg.Storage = store
		cfg.SourceBucket = "sources"
		cfg.MaxSourceBytes = 1024
	})
	ctx := context.Background()

	sub := twoSum("sub-8")
	sub.SourceCode = ""
	sub.SourceKey = "sub-8.py"
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, sub)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	status, err := h.status.Get(ctx, "sub-8")
	if err != nil || status.Verdict != result.VerdictAC {
		t.Fatalf("expected AC, got %+v err=%v", status, err)
	}

	missing := twoSum("sub-9")
	missing.SourceCode = ""
	missing.SourceKey = "absent.py"
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, missing)); err != nil {
		t.Fatalf("handle missing: %v", err)
	}
	status, err = h.status.Get(ctx, "sub-9")
	if err != nil || status.Status != result.StatusFailed {
		t.Fatalf("expected FAILED for missing source, got %+v err=%v", status, err)
	}
	if len(h.queue.Published(retryTopic)) != 0 {
		t.Fatalf("missing source must not be retried")
	}

	store.objects["sources/huge.py"] = bytes.Repeat([]byte("#"), 2048)
	huge := twoSum("sub-10")
	huge.SourceCode = ""
	huge.SourceKey = "huge.py"
	gets := store.gets
	if err := h.svc.HandleMessage(ctx, submissionMessage(t, huge)); err != nil {
		t.Fatalf("handle huge: %v", err)
	}
	status, err = h.status.Get(ctx, "sub-10")
	if err != nil || status.Status != result.StatusFailed || status.ErrorCode != int(appErr.CodeTooLarge) {
		t.Fatalf("expected FAILED with CodeTooLarge, got %+v err=%v", status, err)
	}
	if store.gets != gets {
		t.Fatalf("oversized source must be rejected before download")
	}
}

func TestComputeBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			t.Parallel()
			if got := service.ComputeBackoff(tt.attempt, 100*time.Millisecond, 500*time.Millisecond); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	t.Parallel()
	p := service.RetryPolicy{MaxAttempts: 3}
	if p.Exhausted(0) || p.Exhausted(1) {
		t.Fatalf("attempts 0 and 1 still have retries left")
	}
	if !p.Exhausted(2) {
		t.Fatalf("attempt 2 is the last of 3")
	}
}

func TestParseAttempt(t *testing.T) {
	t.Parallel()
	if service.ParseAttempt(nil) != 0 {
		t.Fatalf("nil headers must parse as attempt 0")
	}
	if service.ParseAttempt(map[string]string{service.AttemptHeader: "oops"}) != 0 {
		t.Fatalf("garbage must parse as attempt 0")
	}
	if service.ParseAttempt(map[string]string{service.AttemptHeader: "-2"}) != 0 {
		t.Fatalf("negative must parse as attempt 0")
	}
	if service.ParseAttempt(map[string]string{service.AttemptHeader: "2"}) != 2 {
		t.Fatalf("expected attempt 2")
	}
}
