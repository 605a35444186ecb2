package executor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
)

// MaxCapturedOutput bounds how much of a program's stdout is kept per case.
const MaxCapturedOutput = 4096

// syntheticCompileCaseID identifies the single case attached to a submission
// that failed before any test case could run.
const syntheticCompileCaseID = "compile"

// exitCodeKilled is 128+SIGKILL, reported when the per-case limiter kills the
// program inside the container.
const exitCodeKilled = 137

// Executor drives one job through its language pipeline: static deny check,
// optional compile step, then one sandbox run per test case.
type Executor struct {
	runner sandbox.Runner
}

// New creates an executor on top of a sandbox runner.
func New(runner sandbox.Runner) (*Executor, error) {
	if runner == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("sandbox runner is required")
	}
	return &Executor{runner: runner}, nil
}

// Execute judges one job and returns the aggregate result. A returned error
// means the pipeline itself broke (sandbox unavailable, unsupported
// language); verdicts about the submitted code are never errors.
func (e *Executor) Execute(ctx context.Context, job *model.Job) (*model.ExecutionResult, error) {
	if job == nil {
		return nil, appErr.ValidationError("job", "required")
	}
	spec, ok := SpecFor(job.Language)
	if !ok {
		return nil, appErr.New(appErr.LanguageNotSupported).
			WithDetail("language", string(job.Language))
	}
	if len(job.TestCases) == 0 {
		return nil, appErr.New(appErr.TestCasesMissing).
			WithDetail("submission_id", job.SubmissionID)
	}

	if module := spec.CheckForbidden(job.Code); module != "" {
		logger.Info(ctx, "submission rejected by deny list",
			zap.String("submission_id", job.SubmissionID),
			zap.String("language", string(job.Language)),
			zap.String("module", module))
		return e.forbiddenResult(job, module), nil
	}

	var compileMS int64
	if spec.Compiled() {
		compileRes, elapsed, err := e.compile(ctx, spec, job)
		if err != nil {
			return nil, err
		}
		if compileRes != nil {
			return compileRes, nil
		}
		compileMS = elapsed
	}

	cases := append([]model.CaseSnapshot(nil), job.TestCases...)
	sort.Slice(cases, func(i, j int) bool { return cases[i].OrderIndex < cases[j].OrderIndex })

	results := make([]model.TestCaseResult, 0, len(cases))
	var totalMS int64
	for _, tc := range cases {
		res, err := e.runCase(ctx, spec, job, tc)
		if err != nil {
			return nil, err
		}
		totalMS += res.TimeMS
		results = append(results, res)
	}

	return aggregate(job, results, compileMS+totalMS), nil
}

// compile runs the dedicated compile step. It returns a terminal result when
// compilation fails; on success the result is nil and the elapsed compile
// time is returned for the aggregate total.
func (e *Executor) compile(ctx context.Context, spec LanguageSpec, job *model.Job) (*model.ExecutionResult, int64, error) {
	res, err := e.runner.Run(ctx, sandbox.Request{
		Image:         spec.Image,
		SourceFile:    spec.SourceFile,
		Code:          job.Code,
		Command:       spec.CompileCmd,
		TimeLimitMS:   CompileBudgetMS,
		MemoryLimitMB: job.MemoryLimitMB,
	})
	if err != nil {
		return nil, 0, err
	}

	failed := res.ExitCode != 0 || res.TimedOut()
	if !failed {
		for _, hint := range spec.CompileErrorHints {
			if strings.Contains(res.Stderr, hint) {
				failed = true
				break
			}
		}
	}
	if !failed {
		return nil, res.TimeMS, nil
	}

	message := res.Stderr
	if res.TimedOut() {
		message = fmt.Sprintf("compilation exceeded %dms", int64(CompileBudgetMS))
	}
	logger.Info(ctx, "compilation failed",
		zap.String("submission_id", job.SubmissionID),
		zap.String("language", string(job.Language)),
		zap.Int("exit_code", res.ExitCode))
	return &model.ExecutionResult{
		SubmissionID: job.SubmissionID,
		Status:       model.StatusCompilationError,
		Score:        0,
		Passed:       0,
		Total:        len(job.TestCases),
		TimeMSTotal:  res.TimeMS,
		ErrorMessage: message,
		Cases: []model.TestCaseResult{{
			CaseID:       syntheticCompileCaseID,
			Status:       model.StatusCompilationError,
			TimeMS:       res.TimeMS,
			ErrorMessage: message,
		}},
		FinishedAt: time.Now().UTC(),
	}, res.TimeMS, nil
}

func (e *Executor) runCase(ctx context.Context, spec LanguageSpec, job *model.Job, tc model.CaseSnapshot) (model.TestCaseResult, error) {
	res, err := e.runner.Run(ctx, sandbox.Request{
		Image:         spec.Image,
		SourceFile:    spec.SourceFile,
		Code:          job.Code,
		Stdin:         tc.Input,
		Command:       spec.CaseCommand(job.TimeLimitMS),
		TimeLimitMS:   spec.SandboxBudgetMS(job.TimeLimitMS),
		MemoryLimitMB: job.MemoryLimitMB,
	})
	if err != nil {
		return model.TestCaseResult{}, err
	}

	timeMS, stderr := extractCaseTime(res.Stderr)
	if timeMS < 0 {
		timeMS = res.TimeMS
	}

	out := model.TestCaseResult{
		CaseID:         tc.ID,
		TimeMS:         timeMS,
		MemoryMB:       res.MemoryMB,
		Output:         truncateOutput(res.Stdout),
		ExpectedOutput: tc.ExpectedOutput,
		OrderIndex:     tc.OrderIndex,
	}

	// The in-container limiter kills with SIGKILL, so the shell reports 137.
	// A kill landing exactly on the limit still measures timeMS == limit.
	killedAtLimit := res.ExitCode == exitCodeKilled && timeMS >= job.TimeLimitMS

	switch {
	case res.TimedOut() || killedAtLimit || timeMS > job.TimeLimitMS:
		out.Status = model.StatusTimeLimitExceeded
		out.TimeMS = job.TimeLimitMS
		out.ErrorMessage = fmt.Sprintf("time limit of %dms exceeded", job.TimeLimitMS)
	case strings.Contains(stderr, compileErrorMarker):
		out.Status = model.StatusCompilationError
		out.ErrorMessage = strings.TrimSpace(strings.ReplaceAll(stderr, compileErrorMarker, ""))
	case res.ExitCode != 0:
		out.Status = model.StatusRuntimeError
		out.ErrorMessage = stderr
	case OutputsMatch(res.Stdout, tc.ExpectedOutput):
		out.Status = model.StatusAccepted
	default:
		out.Status = model.StatusWrongAnswer
		out.ErrorMessage = "output does not match expected output"
	}
	return out, nil
}

func (e *Executor) forbiddenResult(job *model.Job, module string) *model.ExecutionResult {
	return &model.ExecutionResult{
		SubmissionID: job.SubmissionID,
		Status:       model.StatusCompilationError,
		Score:        0,
		Passed:       0,
		Total:        len(job.TestCases),
		ErrorMessage: fmt.Sprintf("forbidden import: %s", module),
		Cases:        []model.TestCaseResult{},
		FinishedAt:   time.Now().UTC(),
	}
}

// aggregate folds per-case verdicts into the submission verdict. Precedence:
// compilation error, runtime error, time limit, then accepted only when
// every case passed.
func aggregate(job *model.Job, cases []model.TestCaseResult, totalMS int64) *model.ExecutionResult {
	var passed int
	var anyCE, anyRE, anyTLE bool
	for _, c := range cases {
		switch c.Status {
		case model.StatusAccepted:
			passed++
		case model.StatusCompilationError:
			anyCE = true
		case model.StatusRuntimeError:
			anyRE = true
		case model.StatusTimeLimitExceeded:
			anyTLE = true
		}
	}

	status := model.StatusWrongAnswer
	switch {
	case anyCE:
		status = model.StatusCompilationError
	case anyRE:
		status = model.StatusRuntimeError
	case anyTLE:
		status = model.StatusTimeLimitExceeded
	case passed == len(cases):
		status = model.StatusAccepted
	}

	return &model.ExecutionResult{
		SubmissionID: job.SubmissionID,
		Status:       status,
		Score:        Score(passed, len(cases)),
		Passed:       passed,
		Total:        len(cases),
		TimeMSTotal:  totalMS,
		Cases:        cases,
		FinishedAt:   time.Now().UTC(),
	}
}

// Score computes the integer-rounded percentage of passed cases.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

var caseTimePattern = regexp.MustCompile(`(?m)^` + caseTimeMarker + ` (\d+)$`)

// extractCaseTime pulls the measured run time out of stderr and returns the
// remaining stderr with the marker line removed. Returns -1 when no marker
// is present, which happens when the container was killed at the wall limit.
func extractCaseTime(stderr string) (int64, string) {
	match := caseTimePattern.FindStringSubmatch(stderr)
	if match == nil {
		return -1, stderr
	}
	ms, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return -1, stderr
	}
	cleaned := strings.TrimSpace(caseTimePattern.ReplaceAllString(stderr, ""))
	return ms, cleaned
}

func truncateOutput(s string) string {
	if len(s) <= MaxCapturedOutput {
		return s
	}
	return s[:MaxCapturedOutput]
}
