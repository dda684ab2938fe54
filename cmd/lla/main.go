package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/lla-lang/lla"
)

func main() {
	disasm := flag.Bool("disasm", false, "print the compiled bytecode and exit")
	verbose := flag.Int("v", 0, "log verbosity (0..2)")
	optsPath := flag.String("options", "lla.toml", "options file (TOML)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: lla [flags] <script.lla>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	if !strings.HasSuffix(path, ".lla") {
		fmt.Fprintf(os.Stderr, "lla: %s: not a .lla file\n", path)
		os.Exit(2)
	}

	commonlog.Configure(*verbose, nil)

	prog, err := lla.CompileFile(path)
	if err != nil {
		fail(err)
	}
	if *disasm {
		if err := prog.Disassemble(os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	opts, err := lla.LoadOptions(*optsPath)
	if err != nil {
		fail(err)
	}
	machine := lla.NewVMWithOptions(opts)
	if opts.Trace {
		machine.SetTraceHook(func(info lla.TraceInfo) {
			fmt.Fprintf(os.Stderr, "trace %s:%d %s ip=%d op=0x%02X\n",
				info.Source, info.Line, info.Function, info.IP, info.Op)
		})
	}
	val, err := machine.Execute(prog)
	if err != nil {
		var rte *lla.RuntimeError
		if errors.As(err, &rte) {
			fmt.Fprintf(os.Stderr, "lla: %s: %s\n", rte.Kind, rte.Error())
			for _, fr := range rte.Stack {
				fmt.Fprintf(os.Stderr, "  at %s (%s:%d)\n", fr.Function, fr.Source, fr.Line)
			}
			os.Exit(1)
		}
		fail(err)
	}
	if !val.IsNil() {
		fmt.Println(val.Display())
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "lla:", err)
	os.Exit(1)
}
