// Command obsreplay replays YAML scenarios of data mutations through an
// observable instance and prints the patch maps it commits.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/scott-cotton/cli"
)

func main() {
	cli.MainContext(context.Background(), Root())
}

// Root returns the obsreplay command tree.
func Root() *cli.Command {
	return cli.NewCommand("obsreplay").
		WithSynopsis("obsreplay command [opts] scenario.yaml...").
		WithDescription("obsreplay runs mutation scenarios through an observable instance.").
		WithSubs(RunCommand(), CheckCommand())
}

type runConfig struct {
	*cli.Command
	JSON  bool `cli:"name=json aliases=j desc='print each commit as a JSON patch map'"`
	Diff  bool `cli:"name=diff aliases=d desc='show the host state diff of each commit'"`
	Color bool `cli:"name=color desc='force coloured output'"`
}

// RunCommand returns the run subcommand.
func RunCommand() *cli.Command {
	cfg := &runConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "run").
		WithSynopsis("run [-json] [-diff] [-color] scenario.yaml...").
		WithDescription("replay scenarios and print every commit").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *runConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: no scenario files given", cli.ErrUsage)
	}
	p := newPrinter(cc.Out, cfg.Color || useColor(cc.Out), cfg.JSON, cfg.Diff)
	for _, file := range args {
		sc, err := loadScenario(file)
		if err != nil {
			return err
		}
		commits, err := replay(sc)
		p.scenario(sc.Name, commits)
		if err != nil {
			return fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
	}
	return nil
}

type checkConfig struct {
	*cli.Command
	Color bool `cli:"name=color desc='force coloured output'"`
}

// CheckCommand returns the check subcommand.
func CheckCommand() *cli.Command {
	cfg := &checkConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Command, "check").
		WithSynopsis("check scenario.yaml...").
		WithDescription("replay scenarios and compare commits with their expect section").
		WithOpts(opts...).
		WithRun(cfg.run)
}

var errCheckFailed = errors.New("scenario check failed")

func (cfg *checkConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: no scenario files given", cli.ErrUsage)
	}
	p := newPrinter(cc.Out, cfg.Color || useColor(cc.Out), false, false)
	failures := 0
	for _, file := range args {
		if err := checkFile(file); err != nil {
			failures++
			p.failed.Fprintf(cc.Out, "FAIL")
			fmt.Fprintf(cc.Out, " %s: %v\n", file, err)
			continue
		}
		p.added.Fprintf(cc.Out, "ok")
		fmt.Fprintf(cc.Out, "   %s\n", file)
	}
	if failures > 0 {
		return fmt.Errorf("%w: %d of %d", errCheckFailed, failures, len(args))
	}
	return nil
}

func checkFile(file string) error {
	sc, err := loadScenario(file)
	if err != nil {
		return err
	}
	commits, err := replay(sc)
	if err != nil {
		return err
	}
	return sc.check(commits)
}
