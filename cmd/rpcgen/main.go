// Command rpcgen generates the client stub and the server skeleton of a
// remote module from one Go source file.
//
//	rpcgen -module example/calc -package calcstub -stub ../calcstub/calc_stub.go -skeleton calc_remote.go calc.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"typed-rpc/logging"
	"typed-rpc/proxygen"
)

func main() {
	logger := logging.Must("info", false)
	defer logger.Sync()
	if err := run(os.Args[1:], os.Stdout, logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.Error("rpcgen failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, logger *zap.Logger) error {
	fs := flag.NewFlagSet("rpcgen", flag.ContinueOnError)
	var (
		opts     proxygen.Options
		stubOut  = fs.String("stub", "", "write the client stub to this file (- for stdout)")
		skelOut  = fs.String("skeleton", "", "write the RegisterRemote skeleton to this file (- for stdout)")
		stubPath = fs.String("stub-import", proxygen.DefaultStubPath, "import path of the stub package")
	)
	fs.StringVar(&opts.Module, "module", "", "remote module name (default: source package name)")
	fs.StringVar(&opts.Package, "package", "", "package clause of the stub (default: source package name)")
	fs.StringVar(&opts.SignaturePath, "signature-import", proxygen.DefaultSignaturePath, "import path of the signature package")
	fs.StringVar(&opts.RegistryPath, "registry-import", proxygen.DefaultRegistryPath, "import path of the registry package")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected exactly one source file, got %d", fs.NArg())
	}
	if *stubOut == "" && *skelOut == "" {
		return errors.New("nothing to do: set -stub and/or -skeleton")
	}
	opts.StubPath = *stubPath
	opts.Logger = logger

	source := fs.Arg(0)
	src, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	f, err := proxygen.Parse(source, src)
	if err != nil {
		return err
	}

	if *stubOut != "" {
		out, err := proxygen.GenerateStub(f, opts)
		if err != nil {
			return err
		}
		if err := write(*stubOut, out, stdout); err != nil {
			return err
		}
		logger.Info("stub generated", zap.String("source", source), zap.String("output", *stubOut), zap.Int("functions", countRemotable(f)))
	}
	if *skelOut != "" {
		// Skipped declarations were already reported with the stub
		skelOpts := opts
		if *stubOut != "" {
			skelOpts.Logger = zap.NewNop()
		}
		out, err := proxygen.GenerateSkeleton(f, skelOpts)
		if err != nil {
			return err
		}
		if err := write(*skelOut, out, stdout); err != nil {
			return err
		}
		logger.Info("skeleton generated", zap.String("source", source), zap.String("output", *skelOut))
	}
	return nil
}

func write(path string, data []byte, stdout io.Writer) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func countRemotable(f *proxygen.File) int {
	n := len(f.Funcs)
	for _, t := range f.Types {
		n += len(t.Methods)
	}
	return n
}
