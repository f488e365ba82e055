// Package pipeline turns a judge task into a verdict: compile the source,
// run every test case under the sandbox, verify outputs, aggregate.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gavel/internal/coordinator/model"
	"gavel/internal/judger/blobcache"
	"gavel/internal/judger/sandbox"
	"gavel/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	compileTimeMS   = 30_000
	compileMemoryKB = 512 * 1024
	wallGraceFactor = 2
	stdoutCapBytes  = 64 * 1024
	messageCapBytes = 4 * 1024

	inputFileName  = "input.txt"
	outputFileName = "output.txt"
	answerFileName = "answer.txt"
	checkerBinName = "checker"
	checkerSrcName = "checker.cpp"
)

// Pipeline judges tasks. Safe for concurrent use; each task gets its own
// work directory.
type Pipeline struct {
	runner   sandbox.Runner
	cache    *blobcache.Cache
	workRoot string
	profiles map[string]LanguageProfile
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithProfileOverrides adjusts builtin language profiles from worker config.
func WithProfileOverrides(overrides map[string]ProfileOverride) Option {
	return func(p *Pipeline) {
		p.profiles = buildProfiles(overrides)
	}
}

// New creates a pipeline.
func New(runner sandbox.Runner, cache *blobcache.Cache, workRoot string, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:   runner,
		cache:    cache,
		workRoot: workRoot,
		profiles: buildProfiles(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Judge produces a terminal verdict for the task. Infrastructure failures
// surface as a system error verdict rather than an error: the coordinator
// needs a report either way.
func (p *Pipeline) Judge(ctx context.Context, task *model.JudgeTask) *model.Verdict {
	start := time.Now()
	verdict := p.judge(ctx, task)
	logger.Info(ctx, "task judged",
		zap.String("task_id", task.ID),
		zap.String("submission_id", task.SubmissionID),
		zap.String("status", string(verdict.Status)),
		zap.Int("score", verdict.Score),
		zap.Duration("elapsed", time.Since(start)),
	)
	return verdict
}

func (p *Pipeline) judge(ctx context.Context, task *model.JudgeTask) *model.Verdict {
	profile, err := profileFor(p.profiles, task.Language)
	if err != nil {
		return systemError(task.SubmissionID, "unsupported language: "+task.Language)
	}

	workDir := filepath.Join(p.workRoot, "task-"+task.ID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return systemError(task.SubmissionID, "work directory setup failed")
	}
	defer os.RemoveAll(workDir)

	if err := os.WriteFile(filepath.Join(workDir, profile.SourceFile), []byte(task.SourceCode), 0644); err != nil {
		return systemError(task.SubmissionID, "write source failed")
	}

	if profile.CompileEnabled {
		if verdict := p.compile(ctx, task, profile, workDir); verdict != nil {
			return verdict
		}
	}

	if task.Mode == model.VerifySpecial {
		if err := p.compileChecker(ctx, task, workDir); err != nil {
			logger.Error(ctx, "checker compilation failed",
				zap.String("task_id", task.ID), zap.Error(err))
			return systemError(task.SubmissionID, "checker compilation failed")
		}
	}

	cases := make([]model.TestCaseSpec, len(task.TestCases))
	copy(cases, task.TestCases)
	sort.Slice(cases, func(i, j int) bool { return cases[i].Order < cases[j].Order })

	results := make([]model.TestCaseResult, 0, len(cases))
	for _, tc := range cases {
		results = append(results, p.runCase(ctx, task, profile, workDir, tc))
	}
	v := model.Aggregate(task.SubmissionID, results)
	return &v
}

// compile builds the submission. A non-nil return is a terminal verdict.
func (p *Pipeline) compile(ctx context.Context, task *model.JudgeTask, profile LanguageProfile, workDir string) *model.Verdict {
	args, err := buildCommand(profile.CompileCmdTpl, workDir, profile)
	if err != nil {
		return systemError(task.SubmissionID, "bad compile command")
	}

	res, err := p.runner.Run(ctx, sandbox.Command{
		Args:        args,
		Env:         compileEnv(profile),
		Dir:         workDir,
		CPUTimeMS:   compileTimeMS,
		WallTimeMS:  compileTimeMS * wallGraceFactor,
		MemoryKB:    compileMemoryKB,
		StderrLimit: messageCapBytes,
	})
	if err != nil {
		logger.Error(ctx, "compiler invocation failed",
			zap.String("task_id", task.ID), zap.Error(err))
		return systemError(task.SubmissionID, "compiler invocation failed")
	}
	if res.TimedOut {
		return &model.Verdict{
			SubmissionID:   task.SubmissionID,
			Status:         model.StatusCompileError,
			CompileMessage: "compilation timed out",
		}
	}
	if res.ExitCode != 0 {
		return &model.Verdict{
			SubmissionID:   task.SubmissionID,
			Status:         model.StatusCompileError,
			CompileMessage: capMessage(string(res.Stderr)),
		}
	}
	return nil
}

func (p *Pipeline) compileChecker(ctx context.Context, task *model.JudgeTask, workDir string) error {
	checkerProfile := builtinProfiles["cpp"]
	checkerProfile.SourceFile = checkerSrcName
	checkerProfile.BinaryFile = checkerBinName

	if err := os.WriteFile(filepath.Join(workDir, checkerSrcName), []byte(task.CheckerSource), 0644); err != nil {
		return err
	}
	args, err := buildCommand(checkerProfile.CompileCmdTpl, workDir, checkerProfile)
	if err != nil {
		return err
	}
	res, err := p.runner.Run(ctx, sandbox.Command{
		Args:        args,
		Dir:         workDir,
		CPUTimeMS:   compileTimeMS,
		WallTimeMS:  compileTimeMS * wallGraceFactor,
		MemoryKB:    compileMemoryKB,
		StderrLimit: messageCapBytes,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return errCheckerCompile(string(res.Stderr))
	}
	return nil
}

func (p *Pipeline) runCase(ctx context.Context, task *model.JudgeTask, profile LanguageProfile, workDir string, tc model.TestCaseSpec) model.TestCaseResult {
	result := model.TestCaseResult{Order: tc.Order}

	inputPath := filepath.Join(workDir, inputFileName)
	answerPath := filepath.Join(workDir, answerFileName)
	if err := p.cache.Materialize(ctx, tc.InputKey, inputPath); err != nil {
		logger.Error(ctx, "materialize input failed",
			zap.String("task_id", task.ID), zap.Int("test", tc.Order), zap.Error(err))
		result.Status = model.StatusSystemError
		result.Message = "test input unavailable"
		return result
	}
	if err := p.cache.Materialize(ctx, tc.OutputKey, answerPath); err != nil {
		logger.Error(ctx, "materialize answer failed",
			zap.String("task_id", task.ID), zap.Int("test", tc.Order), zap.Error(err))
		result.Status = model.StatusSystemError
		result.Message = "test answer unavailable"
		return result
	}

	args, err := buildCommand(profile.RunCmdTpl, workDir, profile)
	if err != nil {
		result.Status = model.StatusSystemError
		result.Message = "bad run command"
		return result
	}

	cpuLimit := scaleLimit(int64(task.TimeLimitMS), profile.TimeMultiplier)
	memLimit := scaleLimit(int64(task.MemoryLimitKB), profile.MemoryMultiplier)
	cmd := sandbox.Command{
		Args:        args,
		Env:         profile.Env,
		Dir:         workDir,
		StdinPath:   inputPath,
		CPUTimeMS:   cpuLimit,
		WallTimeMS:  cpuLimit * wallGraceFactor,
		MemoryKB:    memLimit,
		StdoutLimit: stdoutCapBytes,
		StderrLimit: messageCapBytes,
	}
	outputPath := filepath.Join(workDir, outputFileName)
	if task.Mode == model.VerifySpecial {
		cmd.StdoutPath = outputPath
	}

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		logger.Error(ctx, "sandbox run failed",
			zap.String("task_id", task.ID), zap.Int("test", tc.Order), zap.Error(err))
		result.Status = model.StatusSystemError
		result.Message = "sandbox failure"
		return result
	}

	result.TimeMS = res.TimeMS
	result.MemoryKB = res.MemoryKB

	switch {
	case res.TimedOut:
		result.Status = model.StatusTimeLimitExceeded
	case res.OOMKilled || (memLimit > 0 && res.MemoryKB > memLimit):
		result.Status = model.StatusMemoryLimitExceeded
	case res.Truncated:
		result.Status = model.StatusRuntimeError
		result.Message = "output limit exceeded"
	case res.ExitCode != 0:
		result.Status = model.StatusRuntimeError
		result.Message = capMessage(string(res.Stderr))
	default:
		p.verify(ctx, task, workDir, &result, res.Stdout, inputPath, outputPath, answerPath)
	}

	if result.Status == model.StatusAccepted {
		result.Score = tc.Score
	}
	return result
}

func (p *Pipeline) verify(ctx context.Context, task *model.JudgeTask, workDir string, result *model.TestCaseResult, stdout []byte, inputPath, outputPath, answerPath string) {
	if task.Mode == model.VerifySpecial {
		p.verifySpecial(ctx, task, workDir, result, inputPath, outputPath, answerPath)
		return
	}

	answer, err := os.ReadFile(answerPath)
	if err != nil {
		result.Status = model.StatusSystemError
		result.Message = "read answer failed"
		return
	}
	ok, err := outputsMatch(stdout, answer)
	if err != nil {
		logger.Error(ctx, "answer comparison failed",
			zap.String("task_id", task.ID), zap.Int("test", result.Order), zap.Error(err))
		result.Status = model.StatusSystemError
		result.Message = "answer comparison failed"
		return
	}
	if ok {
		result.Status = model.StatusAccepted
	} else {
		result.Status = model.StatusWrongAnswer
	}
}

// verifySpecial runs the compiled checker as: checker input answer output.
// Exit 0 accepts, any other exit rejects, a crash is a system failure.
func (p *Pipeline) verifySpecial(ctx context.Context, task *model.JudgeTask, workDir string, result *model.TestCaseResult, inputPath, outputPath, answerPath string) {
	res, err := p.runner.Run(ctx, sandbox.Command{
		Args:        []string{filepath.Join(workDir, checkerBinName), inputPath, answerPath, outputPath},
		Dir:         workDir,
		CPUTimeMS:   compileTimeMS,
		WallTimeMS:  compileTimeMS * wallGraceFactor,
		MemoryKB:    compileMemoryKB,
		StderrLimit: messageCapBytes,
	})
	if err != nil {
		logger.Error(ctx, "checker run failed",
			zap.String("task_id", task.ID), zap.Int("test", result.Order), zap.Error(err))
		result.Status = model.StatusSystemError
		result.Message = "checker failure"
		return
	}
	if res.ExitCode == 0 {
		result.Status = model.StatusAccepted
	} else {
		result.Status = model.StatusWrongAnswer
		result.Message = capMessage(string(res.Stderr))
	}
}

func compileEnv(profile LanguageProfile) []string {
	env := []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	return append(env, profile.Env...)
}

func systemError(submissionID, message string) *model.Verdict {
	return &model.Verdict{
		SubmissionID:   submissionID,
		Status:         model.StatusSystemError,
		CompileMessage: message,
	}
}

func capMessage(s string) string {
	if len(s) > messageCapBytes {
		return s[:messageCapBytes]
	}
	return s
}

type checkerCompileError string

func errCheckerCompile(msg string) error { return checkerCompileError(capMessage(msg)) }

func (e checkerCompileError) Error() string { return "checker compile failed: " + string(e) }
