package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"vmkit/internal/bytecode"
	"vmkit/internal/code"
	"vmkit/internal/compiler"
	"vmkit/internal/config"
	"vmkit/internal/object"
	"vmkit/internal/repl"
	"vmkit/internal/store"
	"vmkit/internal/tiny"
	"vmkit/internal/vm"

	_ "github.com/tliron/commonlog/simple"
)

const programExt = ".vmkb"

const usage = `usage: vmkit <command> [arguments]

commands:
  repl                              interactive session
  init [dir]                        write vmkit.toml and main.tiny
  build [-o out] [-store name] src  compile to a program file
  run [-print] [-store name] file   run source or a program file
  dis [-store name] file            disassemble
  verify file...                    check program file headers and regions
  test [path|dir]...                run *.test.tiny files
  store ls | rm name... | put name file`

func main() {
	cmd := "repl"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}
	if cmd == "-h" || cmd == "-help" || cmd == "help" {
		fmt.Println(usage)
		return
	}

	cfg, err := config.FindAndLoad(".")
	if err != nil {
		fmt.Println("config error:", err)
		os.Exit(1)
	}
	configureLogging(cfg)

	ctx := context.Background()
	switch cmd {
	case "repl":
		err = runRepl(cfg, args)
	case "init":
		err = runInit(args, os.Stdout)
	case "build":
		err = runBuild(ctx, cfg, args, os.Stdout)
	case "run":
		err = runRun(ctx, cfg, args, os.Stdout)
	case "dis":
		err = runDis(ctx, cfg, args, os.Stdout)
	case "verify":
		err = runVerify(cfg, args, os.Stdout)
	case "test":
		err = runTest(cfg, args, os.Stdout)
	case "store":
		err = runStore(ctx, cfg, args, os.Stdout)
	default:
		fmt.Println("unknown command:", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Println(cmd+" error:", err)
		}
		os.Exit(1)
	}
}

func configureLogging(cfg *config.Config) {
	var path *string
	if cfg.Log.File != "" {
		path = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, path)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func runRepl(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("repl", flag.ContinueOnError)
	dis := fs.Bool("dis", false, "print each input's instructions before running it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("usage: vmkit repl [-dis]")
	}
	repl.Start(os.Stdin, os.Stdout, repl.Options{
		Interactive: isTerminal(os.Stdin),
		Disassemble: *dis,
		VM:          cfg.VMConfig(),
	})
	return nil
}

func runInit(args []string, out io.Writer) error {
	if len(args) > 1 {
		return fmt.Errorf("usage: vmkit init [dir]")
	}
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	cfgPath := filepath.Join(dir, config.FileName)
	if exists, err := pathExists(cfgPath); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%s already exists", cfgPath)
	}
	var sb strings.Builder
	if err := config.Encode(&sb, config.Default()); err != nil {
		return err
	}
	if err := os.WriteFile(cfgPath, []byte(sb.String()), 0o644); err != nil {
		return err
	}

	mainPath := filepath.Join(dir, "main.tiny")
	if exists, err := pathExists(mainPath); err != nil {
		return err
	} else if !exists {
		if err := os.WriteFile(mainPath, []byte(starterProgram), 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, "created", cfgPath)
	return nil
}

const starterProgram = `(def add (fn [a b] (+ a b)))
(puts (add 2 3))
`

func runBuild(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	outPath := fs.String("o", "", "output file (default: source name with "+programExt+")")
	name := fs.String("store", "", "also save the program in the store under this name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: vmkit build [-o out] [-store name] src.tiny")
	}
	src := fs.Arg(0)

	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	bc, err := compileSource(string(data))
	if err != nil {
		return fmt.Errorf("%s:%w", src, err)
	}
	encoded, err := bytecode.Marshal(bc, tiny.New(nil))
	if err != nil {
		return err
	}

	dest := *outPath
	if dest == "" && *name == "" {
		dest = strings.TrimSuffix(src, filepath.Ext(src)) + programExt
	}
	if dest != "" {
		if err := os.WriteFile(dest, encoded, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d bytes)\n", dest, len(encoded))
	}
	if *name != "" {
		st, err := store.Open(ctx, cfg.StorePath())
		if err != nil {
			return err
		}
		defer st.Close()
		e, err := st.Put(ctx, *name, encoded)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored %s %s\n", e.Name, shortDigest(e.Digest))
	}
	return nil
}

func runRun(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	printResult := fs.Bool("print", false, "print the last value")
	name := fs.String("store", "", "run the stored program with this name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bc, err := resolveProgram(ctx, cfg, fs, *name)
	if err != nil {
		return err
	}
	result, err := execute(bc, out, cfg.VMConfig())
	if err != nil {
		return err
	}
	if *printResult && result != nil {
		fmt.Fprintln(out, result.Inspect())
	}
	return nil
}

func runDis(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	name := fs.String("store", "", "disassemble the stored program with this name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bc, err := resolveProgram(ctx, cfg, fs, *name)
	if err != nil {
		return err
	}
	cat := code.Standard()
	fmt.Fprint(out, compiler.FormatConstants(bc.Constants, tiny.New(nil), cat))
	fmt.Fprintln(out, "== instructions ==")
	fmt.Fprint(out, cat.Disassemble(bc.Instructions))
	return nil
}

func runVerify(cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vmkit verify file...")
	}
	failed := 0
	for _, path := range args {
		summary, err := verifyFile(path, cfg.ReadOptions())
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s: %s\n", path, summary)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func verifyFile(path string, opts bytecode.Options) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hdr, err := bytecode.ParseHeader(data)
	if err != nil {
		return "", err
	}
	if err := hdr.Check(tiny.Signature, opts); err != nil {
		return "", err
	}
	prog, _, err := bytecode.Unmarshal(data, tiny.New(nil), opts)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s v%s, %d instruction bytes, %d constants",
		bytecode.FormatTag(hdr.Signature), hdr.Version, len(prog.Instructions), len(prog.Constants)), nil
}

func runStore(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vmkit store ls | rm name... | put name file")
	}
	st, err := store.Open(ctx, cfg.StorePath())
	if err != nil {
		return err
	}
	defer st.Close()

	switch args[0] {
	case "ls":
		entries, err := st.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%-20s %-6s v%-8s %8d  %s  %s\n",
				e.Name, bytecode.FormatTag(e.Signature), e.Version, e.Size,
				shortDigest(e.Digest), e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	case "rm":
		if len(args) < 2 {
			return fmt.Errorf("usage: vmkit store rm name...")
		}
		for _, name := range args[1:] {
			if err := st.Delete(ctx, name); err != nil {
				return err
			}
		}
		return nil
	case "put":
		if len(args) != 3 {
			return fmt.Errorf("usage: vmkit store put name file")
		}
		data, err := os.ReadFile(args[2])
		if err != nil {
			return err
		}
		if _, err := bytecode.ParseHeader(data); err != nil {
			return err
		}
		if _, _, err := bytecode.Unmarshal(data, tiny.New(nil), cfg.ReadOptions()); err != nil {
			return err
		}
		e, err := st.Put(ctx, args[1], data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "stored %s %s\n", e.Name, shortDigest(e.Digest))
		return nil
	}
	return fmt.Errorf("unknown store command %q", args[0])
}

// resolveProgram loads the program named by -store, or the single file
// argument left in fs.
func resolveProgram(ctx context.Context, cfg *config.Config, fs *flag.FlagSet, name string) (*compiler.Bytecode, error) {
	if name != "" {
		if fs.NArg() != 0 {
			return nil, fmt.Errorf("-store and a file argument are mutually exclusive")
		}
		st, err := store.Open(ctx, cfg.StorePath())
		if err != nil {
			return nil, err
		}
		defer st.Close()
		data, err := st.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		prog, _, err := bytecode.Unmarshal(data, tiny.New(nil), cfg.ReadOptions())
		return prog, err
	}

	if fs.NArg() != 1 {
		return nil, fmt.Errorf("usage: vmkit %s [-store name] file", fs.Name())
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadProgram(path, data, cfg.ReadOptions())
}

// isProgramFile reports whether data is a compiled program rather than
// tiny source, going by extension and then by signature.
func isProgramFile(path string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(path), programExt) {
		return true
	}
	hdr, err := bytecode.ParseHeader(data)
	return err == nil && hdr.Signature == tiny.Signature
}

// loadProgram decodes a program file or compiles source. Source errors
// are prefixed with path so they read as path:line:col.
func loadProgram(path string, data []byte, opts bytecode.Options) (*compiler.Bytecode, error) {
	if isProgramFile(path, data) {
		prog, _, err := bytecode.Unmarshal(data, tiny.New(nil), opts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return prog, nil
	}
	bc, err := compileSource(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", path, err)
	}
	return bc, nil
}

func compileSource(src string) (*compiler.Bytecode, error) {
	c := tiny.NewCompiler()
	if err := tiny.CompileString(c, src); err != nil {
		return nil, err
	}
	return c.Bytecode(), nil
}

// execute runs bc with builtins printing to out and returns the last
// popped value.
func execute(bc *compiler.Bytecode, out io.Writer, cfg vm.Config) (object.Object, error) {
	m := vm.NewWithConfig(bc, tiny.New(out), cfg)
	if err := m.Run(); err != nil {
		return nil, err
	}
	return m.LastPoppedStackElem(), nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
