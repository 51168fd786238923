package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Idsl-group/code-agent/internal/application/port/input"
	"github.com/Idsl-group/code-agent/internal/di"
	"github.com/Idsl-group/code-agent/internal/infrastructure/env"
)

func main() {
	envService, err := env.NewEnvService(env.Options{})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	task := strings.TrimSpace(strings.Join(os.Args[1:], " "))
	if task == "" {
		fmt.Println("\nEnter a task for the agent:")
		reader := bufio.NewReader(os.Stdin)
		task, err = reader.ReadString('\n')
		if err != nil && task == "" {
			log.Fatal("Failed to read input: ", err)
		}
		task = strings.TrimSpace(task)
	}
	if task == "" {
		log.Fatal("Task is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	cfg := di.ConfigFrom(envService)
	cfg.TaskName = task

	container, err := di.NewContainer(cfg)
	if err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}
	defer container.Close()

	container.Logger.Info("Task started", "task", task)
	fmt.Println("\nAgent started...")

	result, err := container.TaskExecutor.Execute(ctx, task)
	if err != nil {
		container.Logger.Error("Task failed", "error", err)
	} else {
		container.Logger.Info("Task completed", "runId", result.RunID, "turns", result.Turns)
	}

	if code := report(os.Stdout, result, err); code != 0 {
		container.Close()
		os.Exit(code)
	}
}

// report prints the outcome of a run and returns the process exit code. A
// failed run still shows the last well-formed message it produced.
func report(w io.Writer, result *input.ExecuteResult, err error) int {
	if err != nil {
		fmt.Fprintf(w, "\nExecution failed: %v\n", err)
		if result == nil {
			return 1
		}
		fmt.Fprintf(w, "Run ID: %s\n", result.RunID)
		if result.FinalAnswer != "" {
			fmt.Fprintln(w, "\nLAST OUTPUT:")
			fmt.Fprintln(w, result.FinalAnswer)
		}
		return 1
	}

	fmt.Fprintln(w, "\nFINAL ANSWER:")
	fmt.Fprintln(w, result.FinalAnswer)

	tools := make([]string, 0, len(result.ToolsUsed))
	for _, name := range result.ToolsUsed {
		tools = append(tools, name.String())
	}
	if len(tools) == 0 {
		tools = append(tools, "none")
	}
	fmt.Fprintf(w, "\nTools used: %s\n", strings.Join(tools, ", "))
	return 0
}
