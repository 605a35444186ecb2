package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox"
	appErr "codejudge/pkg/errors"
)

// fakeRunner replays a scripted sequence of sandbox results and records
// every request it received.
type fakeRunner struct {
	results []sandbox.Result
	err     error
	calls   []sandbox.Request
}

func (f *fakeRunner) Run(_ context.Context, req sandbox.Request) (sandbox.Result, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return sandbox.Result{}, f.err
	}
	if len(f.results) == 0 {
		return sandbox.Result{}, fmt.Errorf("unexpected sandbox call: %q", req.Command)
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func pythonJob(code string, cases ...model.CaseSnapshot) *model.Job {
	return &model.Job{
		SubmissionID:  "sub-1",
		UserID:        "user-1",
		ChallengeID:   "ch-1",
		Language:      model.LanguagePython,
		Code:          code,
		TimeLimitMS:   1000,
		MemoryLimitMB: 256,
		TestCases:     cases,
	}
}

func snapshot(id, input, expected string, order int) model.CaseSnapshot {
	return model.CaseSnapshot{ID: id, Input: input, ExpectedOutput: expected, OrderIndex: order}
}

func mustExecutor(t *testing.T, runner sandbox.Runner) *Executor {
	t.Helper()
	e, err := New(runner)
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	return e
}

func TestExecuteAllAccepted(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "3\n", ExitCode: 0, TimeMS: 40},
		{Stdout: "7\n", ExitCode: 0, TimeMS: 55},
	}}
	e := mustExecutor(t, runner)

	job := pythonJob("print(sum(map(int, input().split())))",
		snapshot("c1", "1 2\n", "3", 0),
		snapshot("c2", "3 4\n", "7", 1),
	)
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", res.Status)
	}
	if res.Score != 100 || res.Passed != 2 || res.Total != 2 {
		t.Fatalf("unexpected aggregate: %+v", res)
	}
	if res.TimeMSTotal != 95 {
		t.Fatalf("expected total 95ms, got %d", res.TimeMSTotal)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected 2 sandbox calls, got %d", len(runner.calls))
	}
	if runner.calls[0].Stdin != "1 2\n" {
		t.Fatalf("case stdin not forwarded: %q", runner.calls[0].Stdin)
	}
}

func TestExecutePartialCreditScore(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "1", ExitCode: 0, TimeMS: 10},
		{Stdout: "2", ExitCode: 0, TimeMS: 10},
		{Stdout: "nope", ExitCode: 0, TimeMS: 10},
	}}
	e := mustExecutor(t, runner)

	job := pythonJob("print(input())",
		snapshot("c1", "1", "1", 0),
		snapshot("c2", "2", "2", 1),
		snapshot("c3", "3", "3", 2),
	)
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusWrongAnswer {
		t.Fatalf("expected WRONG_ANSWER, got %s", res.Status)
	}
	if res.Score != 67 {
		t.Fatalf("expected score 67 for 2/3, got %d", res.Score)
	}
	if res.Cases[2].ErrorMessage == "" {
		t.Fatal("wrong answer case should carry a diagnostic")
	}
}

func TestExecuteTimeLimitExceeded(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{ExitCode: sandbox.ExitCodeTimeout, TimeMS: 1000, Stderr: "timeout"},
	}}
	e := mustExecutor(t, runner)

	job := pythonJob("while True: pass", snapshot("c1", "", "1", 0))
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusTimeLimitExceeded {
		t.Fatalf("expected TIME_LIMIT_EXCEEDED, got %s", res.Status)
	}
	if res.Cases[0].TimeMS != job.TimeLimitMS {
		t.Fatalf("timed out case should report the limit, got %d", res.Cases[0].TimeMS)
	}
}

func TestExecuteSlowRunIsTimeLimitNotRuntimeError(t *testing.T) {
	// Program finished under the sandbox's slack window but over the limit.
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "1", ExitCode: 0, TimeMS: 1500},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("slow", snapshot("c1", "", "1", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusTimeLimitExceeded {
		t.Fatalf("expected TIME_LIMIT_EXCEEDED, got %s", res.Status)
	}
}

func TestExecuteKilledAtLimitIsTimeLimit(t *testing.T) {
	// The in-container limiter kills with SIGKILL (exit 137). When the kill
	// lands within the same millisecond the marker reads exactly the limit.
	runner := &fakeRunner{results: []sandbox.Result{
		{ExitCode: exitCodeKilled, Stderr: caseTimeMarker + " 1000\n", TimeMS: 1050},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("while True: pass", snapshot("c1", "", "1", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusTimeLimitExceeded {
		t.Fatalf("expected TIME_LIMIT_EXCEEDED, got %s", res.Status)
	}
	if res.Cases[0].TimeMS != 1000 {
		t.Fatalf("killed case should report the limit, got %d", res.Cases[0].TimeMS)
	}
}

func TestExecuteRuntimeError(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stderr: "ZeroDivisionError: division by zero", ExitCode: 1, TimeMS: 30},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("1/0", snapshot("c1", "", "1", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusRuntimeError {
		t.Fatalf("expected RUNTIME_ERROR, got %s", res.Status)
	}
	if !strings.Contains(res.Cases[0].ErrorMessage, "ZeroDivisionError") {
		t.Fatalf("stderr not surfaced: %q", res.Cases[0].ErrorMessage)
	}
}

func TestExecuteForbiddenImportSkipsSandbox(t *testing.T) {
	runner := &fakeRunner{}
	e := mustExecutor(t, runner)

	job := pythonJob("import os\nprint(os.listdir('/'))",
		snapshot("c1", "", "1", 0),
		snapshot("c2", "", "2", 1),
	)
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusCompilationError {
		t.Fatalf("expected COMPILATION_ERROR, got %s", res.Status)
	}
	if !strings.Contains(res.ErrorMessage, "os") {
		t.Fatalf("error message should name the module: %q", res.ErrorMessage)
	}
	if len(res.Cases) != 0 {
		t.Fatalf("expected zero executed cases, got %d", len(res.Cases))
	}
	if len(runner.calls) != 0 {
		t.Fatalf("sandbox must not be invoked, got %d calls", len(runner.calls))
	}
	if res.Score != 0 || res.Total != 2 {
		t.Fatalf("unexpected aggregate: %+v", res)
	}
}

func TestExecuteCompilationError(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stderr: "solution.cpp:3:5: error: expected ';'", ExitCode: 1, TimeMS: 800},
	}}
	e := mustExecutor(t, runner)

	job := &model.Job{
		SubmissionID:  "sub-1",
		Language:      model.LanguageCPP,
		Code:          "int main() { return 0 }",
		TimeLimitMS:   1000,
		MemoryLimitMB: 256,
		TestCases:     []model.CaseSnapshot{snapshot("c1", "", "1", 0)},
	}
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusCompilationError {
		t.Fatalf("expected COMPILATION_ERROR, got %s", res.Status)
	}
	if len(res.Cases) != 1 || res.Cases[0].Status != model.StatusCompilationError {
		t.Fatalf("expected single synthetic case, got %+v", res.Cases)
	}
	if !strings.Contains(res.Cases[0].ErrorMessage, "expected ';'") {
		t.Fatalf("compiler message not surfaced: %q", res.Cases[0].ErrorMessage)
	}
	// Compile step only; no test case may run after a failed compile.
	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 sandbox call, got %d", len(runner.calls))
	}
	if runner.calls[0].Command != "g++ -o solution -std=c++17 -O2 solution.cpp" {
		t.Fatalf("unexpected compile command: %q", runner.calls[0].Command)
	}
}

func TestExecuteCompiledLanguageRunsAfterCompile(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{ExitCode: 0, TimeMS: 900}, // compile
		{Stdout: "42\n", ExitCode: 0, TimeMS: 20},
	}}
	e := mustExecutor(t, runner)

	job := &model.Job{
		SubmissionID:  "sub-1",
		Language:      model.LanguageCPP,
		Code:          "#include <iostream>\nint main(){std::cout<<42;}",
		TimeLimitMS:   1000,
		MemoryLimitMB: 256,
		TestCases:     []model.CaseSnapshot{snapshot("c1", "", "42", 0)},
	}
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", res.Status)
	}
	if res.TimeMSTotal != 920 {
		t.Fatalf("total should include compile time, got %d", res.TimeMSTotal)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("expected compile + 1 case, got %d calls", len(runner.calls))
	}
	if runner.calls[1].TimeLimitMS != 1000+CompileBudgetMS {
		t.Fatalf("case budget should include the compile guard, got %d", runner.calls[1].TimeLimitMS)
	}
}

func TestExecuteEmptyOutputAccepted(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "", ExitCode: 0, TimeMS: 10},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("pass", snapshot("c1", "", "", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("empty-vs-empty should be ACCEPTED, got %s", res.Status)
	}
}

func TestExecuteCasesOrderedByIndex(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "a", ExitCode: 0, TimeMS: 1},
		{Stdout: "b", ExitCode: 0, TimeMS: 1},
		{Stdout: "c", ExitCode: 0, TimeMS: 1},
	}}
	e := mustExecutor(t, runner)

	job := pythonJob("code",
		snapshot("c3", "", "c", 2),
		snapshot("c1", "", "a", 0),
		snapshot("c2", "", "b", 1),
	)
	res, err := e.Execute(context.Background(), job)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if res.Cases[i].CaseID != want {
			t.Fatalf("case %d: expected %s, got %s", i, want, res.Cases[i].CaseID)
		}
	}
	if res.Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", res.Status)
	}
}

func TestExecuteMeasuredTimeFromMarker(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: "1", Stderr: caseTimeMarker + " 37\n", ExitCode: 0, TimeMS: 400},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("fast", snapshot("c1", "", "1", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Cases[0].TimeMS != 37 {
		t.Fatalf("expected measured 37ms, got %d", res.Cases[0].TimeMS)
	}
	if res.Cases[0].Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", res.Cases[0].Status)
	}
}

func TestExecuteUnsupportedLanguage(t *testing.T) {
	e := mustExecutor(t, &fakeRunner{})

	job := pythonJob("code", snapshot("c1", "", "1", 0))
	job.Language = model.Language("ruby")
	_, err := e.Execute(context.Background(), job)
	if err == nil {
		t.Fatal("expected error for unsupported language")
	}
	if got := appErr.GetCode(err); got != appErr.LanguageNotSupported {
		t.Fatalf("expected LanguageNotSupported, got %v", got)
	}
}

func TestExecuteTruncatesLargeOutput(t *testing.T) {
	runner := &fakeRunner{results: []sandbox.Result{
		{Stdout: strings.Repeat("x", MaxCapturedOutput+500), ExitCode: 0, TimeMS: 10},
	}}
	e := mustExecutor(t, runner)

	res, err := e.Execute(context.Background(), pythonJob("spam", snapshot("c1", "", "y", 0)))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res.Cases[0].Output) != MaxCapturedOutput {
		t.Fatalf("output not truncated: %d bytes", len(res.Cases[0].Output))
	}
}

func TestAggregatePrecedence(t *testing.T) {
	job := &model.Job{SubmissionID: "sub-1"}
	tests := []struct {
		name     string
		statuses []model.Status
		want     model.Status
	}{
		{"runtime beats time limit", []model.Status{model.StatusTimeLimitExceeded, model.StatusRuntimeError}, model.StatusRuntimeError},
		{"compile beats runtime", []model.Status{model.StatusRuntimeError, model.StatusCompilationError}, model.StatusCompilationError},
		{"time limit beats wrong answer", []model.Status{model.StatusWrongAnswer, model.StatusTimeLimitExceeded}, model.StatusTimeLimitExceeded},
		{"wrong answer is the fallback", []model.Status{model.StatusAccepted, model.StatusWrongAnswer}, model.StatusWrongAnswer},
		{"all accepted", []model.Status{model.StatusAccepted, model.StatusAccepted}, model.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cases := make([]model.TestCaseResult, len(tt.statuses))
			for i, s := range tt.statuses {
				cases[i] = model.TestCaseResult{CaseID: fmt.Sprintf("c%d", i), Status: s}
			}
			if got := aggregate(job, cases, 0).Status; got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestScoreRounding(t *testing.T) {
	tests := []struct {
		passed, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{3, 3, 100},
		{1, 6, 17},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Score(tt.passed, tt.total); got != tt.want {
			t.Fatalf("Score(%d, %d) = %d, want %d", tt.passed, tt.total, got, tt.want)
		}
	}
}

func TestCheckForbiddenPerLanguage(t *testing.T) {
	tests := []struct {
		lang model.Language
		code string
		want string
	}{
		{model.LanguagePython, "import os", "os"},
		{model.LanguagePython, "from subprocess import run", "subprocess"},
		{model.LanguagePython, "print('hello')", ""},
		{model.LanguagePython, "s = 'import os'", ""},
		{model.LanguageNodeJS, "const fs = require('fs')", "fs"},
		{model.LanguageNodeJS, `const cp = require("child_process")`, "child_process"},
		{model.LanguageNodeJS, "console.log(1)", ""},
		{model.LanguageCPP, "#include <fstream>", "fstream"},
		{model.LanguageCPP, "#include <iostream>", ""},
		{model.LanguageJava, "new ProcessBuilder(\"sh\")", "ProcessBuilder"},
		{model.LanguageJava, "import java.net.Socket;", "java.net"},
		{model.LanguageJava, "System.out.println(1);", ""},
	}
	for _, tt := range tests {
		spec, ok := SpecFor(tt.lang)
		if !ok {
			t.Fatalf("missing spec for %s", tt.lang)
		}
		if got := spec.CheckForbidden(tt.code); got != tt.want {
			t.Fatalf("%s: CheckForbidden(%q) = %q, want %q", tt.lang, tt.code, got, tt.want)
		}
	}
}
