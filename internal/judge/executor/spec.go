package executor

import (
	"fmt"
	"regexp"

	"codejudge/internal/judge/model"
)

// CompileBudgetMS bounds the dedicated compile step for compiled languages.
const CompileBudgetMS = 15000

// compileErrorMarker is emitted to stderr by the run script when the guard
// recompile fails, so a compiler failure slipping past the compile phase is
// still classified as a compilation error rather than a runtime error.
const compileErrorMarker = "__COMPILE_ERROR__"

// ForbiddenPattern is one deny-list entry: the regex that detects it and the
// capability name reported back to the student.
type ForbiddenPattern struct {
	Pattern *regexp.Regexp
	Name    string
}

// LanguageSpec describes how one language is compiled, run, and policed.
type LanguageSpec struct {
	Language   model.Language
	Image      string
	SourceFile string

	// CompileCmd is empty for interpreted languages.
	CompileCmd string

	// RunCmd executes the program with input.txt on stdin.
	RunCmd string

	// CompileErrorHints are substrings in compiler stderr that mark a failed
	// compile even when the exit code is zero.
	CompileErrorHints []string

	// Forbidden is the static deny list applied before any sandbox call.
	Forbidden []ForbiddenPattern
}

// Compiled reports whether the language has a dedicated compile step.
func (s LanguageSpec) Compiled() bool {
	return s.CompileCmd != ""
}

// CheckForbidden returns the name of the first denied capability the source
// uses, or "" when the source is clean.
func (s LanguageSpec) CheckForbidden(code string) string {
	for _, f := range s.Forbidden {
		if f.Pattern.MatchString(code) {
			return f.Name
		}
	}
	return ""
}

// caseTimeMarker prefixes the stderr line carrying the measured run time of
// the user program, excluding container startup and any compile guard.
const caseTimeMarker = "__TIME_MS__"

// CaseCommand builds the shell command for one test case. The per-case time
// limit is enforced inside the container by coreutils timeout, and the run
// duration is measured around the timed program only, so the compile guard
// of compiled languages stays outside the measured budget.
func (s LanguageSpec) CaseCommand(timeLimitMS int64) string {
	run := fmt.Sprintf(
		`_start=$(date +%%s%%N); timeout -s KILL %.3f %s < input.txt; _rc=$?; _end=$(date +%%s%%N); echo "%s $(( (_end - _start) / 1000000 ))" >&2; exit $_rc`,
		float64(timeLimitMS)/1000, s.RunCmd, caseTimeMarker)
	if !s.Compiled() {
		return run
	}
	guard := fmt.Sprintf("{ %s ; } 2> compile.log || { echo %s >&2; cat compile.log >&2; exit 1; }",
		s.CompileCmd, compileErrorMarker)
	return guard + " && " + run
}

// SandboxBudgetMS is the wall clock budget handed to the sandbox for one
// case. Compiled languages get the compile budget on top so the guard
// recompile cannot eat into the case limit.
func (s LanguageSpec) SandboxBudgetMS(timeLimitMS int64) int64 {
	if s.Compiled() {
		return timeLimitMS + CompileBudgetMS
	}
	return timeLimitMS
}

var languageSpecs = map[model.Language]LanguageSpec{
	model.LanguagePython: {
		Language:   model.LanguagePython,
		Image:      "python:3.11-slim",
		SourceFile: "solution.py",
		RunCmd:     "python3 solution.py",
		Forbidden: []ForbiddenPattern{
			{regexp.MustCompile(`(?m)^\s*(?:import\s+os|from\s+os\b)`), "os"},
			{regexp.MustCompile(`(?m)^\s*(?:import\s+sys|from\s+sys\b)`), "sys"},
			{regexp.MustCompile(`(?m)^\s*(?:import\s+subprocess|from\s+subprocess\b)`), "subprocess"},
			{regexp.MustCompile(`(?m)^\s*(?:import\s+socket|from\s+socket\b)`), "socket"},
			{regexp.MustCompile(`(?m)^\s*(?:import\s+shutil|from\s+shutil\b)`), "shutil"},
			{regexp.MustCompile(`(?m)^\s*(?:import\s+ctypes|from\s+ctypes\b)`), "ctypes"},
		},
	},
	model.LanguageJava: {
		Language:          model.LanguageJava,
		Image:             "eclipse-temurin:17-jdk",
		SourceFile:        "Solution.java",
		CompileCmd:        "javac Solution.java",
		RunCmd:            "java Solution",
		CompileErrorHints: []string{"error:"},
		Forbidden: []ForbiddenPattern{
			{regexp.MustCompile(`java\.io\.File\b`), "java.io.File"},
			{regexp.MustCompile(`java\.lang\.Runtime\b|Runtime\.getRuntime\s*\(`), "java.lang.Runtime"},
			{regexp.MustCompile(`ProcessBuilder\b`), "ProcessBuilder"},
			{regexp.MustCompile(`java\.net\.`), "java.net"},
		},
	},
	model.LanguageNodeJS: {
		Language:   model.LanguageNodeJS,
		Image:      "node:18-slim",
		SourceFile: "solution.js",
		RunCmd:     "node solution.js",
		Forbidden: []ForbiddenPattern{
			{regexp.MustCompile(`require\s*\(\s*['"]fs['"]\s*\)`), "fs"},
			{regexp.MustCompile(`require\s*\(\s*['"]child_process['"]\s*\)`), "child_process"},
			{regexp.MustCompile(`require\s*\(\s*['"]net['"]\s*\)`), "net"},
			{regexp.MustCompile(`require\s*\(\s*['"]http['"]\s*\)`), "http"},
		},
	},
	model.LanguageCPP: {
		Language:          model.LanguageCPP,
		Image:             "gcc:latest",
		SourceFile:        "solution.cpp",
		CompileCmd:        "g++ -o solution -std=c++17 -O2 solution.cpp",
		RunCmd:            "./solution",
		CompileErrorHints: []string{"error:"},
		Forbidden: []ForbiddenPattern{
			{regexp.MustCompile(`#\s*include\s*<cstdlib>`), "cstdlib"},
			{regexp.MustCompile(`#\s*include\s*<filesystem>`), "filesystem"},
			{regexp.MustCompile(`#\s*include\s*<fstream>`), "fstream"},
			{regexp.MustCompile(`#\s*include\s*<unistd\.h>`), "unistd.h"},
		},
	},
}

// SpecFor returns the language spec, or false for unsupported languages.
func SpecFor(lang model.Language) (LanguageSpec, bool) {
	spec, ok := languageSpecs[lang]
	return spec, ok
}
