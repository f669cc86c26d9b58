// Command seqctl manages a local sequence store.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agenthands/seqcas/pkg/cidutil"
	"github.com/agenthands/seqcas/pkg/core"
	"github.com/agenthands/seqcas/pkg/keys"
	"github.com/agenthands/seqcas/pkg/message"
	"github.com/agenthands/seqcas/pkg/seqstore"
	"github.com/agenthands/seqcas/pkg/sequence"
	"github.com/agenthands/seqcas/pkg/verify"
	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "keygen":
		return cmdKeygen(args[1:], out, errOut)
	case "create":
		return cmdCreate(args[1:], out, errOut)
	case "append":
		return cmdAppend(args[1:], out, errOut)
	case "range":
		return cmdRange(args[1:], out, errOut)
	case "list":
		return cmdList(args[1:], out, errOut)
	case "export":
		return cmdExport(args[1:], out, errOut)
	case "import":
		return cmdImport(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "seqctl: append-only sequence store CLI")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  seqctl keygen [--scheme ed25519|bls] [--out <file>]")
	fmt.Fprintln(w, "  seqctl create --dir <dir> (--name <hex> | --key <file>) [--tag <n>] [--kind public|private]")
	fmt.Fprintln(w, "  seqctl append --dir <dir> (--name <hex> | --key <file>) [--tag <n>] [--expect <len>] [--sign <file>] <entry> ...")
	fmt.Fprintln(w, "  seqctl range --dir <dir> (--name <hex> | --key <file>) [--tag <n>] [--start start:0] [--end end:0]")
	fmt.Fprintln(w, "  seqctl list --dir <dir>")
	fmt.Fprintln(w, "  seqctl export --dir <dir> (--name <hex> | --key <file>) [--tag <n>] --out <file.car>")
	fmt.Fprintln(w, "  seqctl import --dir <dir> --in <file.car>")
	fmt.Fprintln(w, "  seqctl verify --dir <dir> [--sweep]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - keys are stored as multibase z-base-32 text (0600 files)")
	fmt.Fprintln(w, "  - --key derives the sequence name from the key's public half")
	fmt.Fprintln(w, "  - private sequences only accept appends signed with --sign")
	fmt.Fprintln(w, "  - -v enables debug logging on stderr")
}

// storeFlags are shared by every command that opens the store.
type storeFlags struct {
	dir     string
	verbose bool
}

func (f *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.dir, "dir", "", "Store directory")
	fs.BoolVar(&f.verbose, "v", false, "Debug logging")
}

func (f *storeFlags) open(ctx context.Context, errOut io.Writer) (seqstore.Store, error) {
	if f.dir == "" {
		return nil, errors.New("--dir is required")
	}
	level := zerolog.WarnLevel
	if f.verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: errOut, NoColor: true}).Level(level).With().Timestamp().Logger()
	return seqstore.Open(ctx, seqstore.Config{Dir: f.dir, Logger: &logger})
}

// addrFlags select a sequence by explicit name or by a key file's public key.
type addrFlags struct {
	name    string
	keyFile string
	tag     uint64
}

func (f *addrFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "Sequence name (64 hex chars)")
	fs.StringVar(&f.keyFile, "key", "", "Derive the name from this key file")
	fs.Uint64Var(&f.tag, "tag", 0, "Sequence tag")
}

func (f *addrFlags) address() (core.Address, error) {
	switch {
	case f.name != "" && f.keyFile != "":
		return core.Address{}, errors.New("--name and --key are mutually exclusive")
	case f.name != "":
		id, err := core.ParseIdentifier(f.name)
		if err != nil {
			return core.Address{}, err
		}
		return core.Address{Name: id, Tag: f.tag}, nil
	case f.keyFile != "":
		kp, err := readKeypair(f.keyFile)
		if err != nil {
			return core.Address{}, err
		}
		return core.Address{Name: kp.PublicKey().Name(), Tag: f.tag}, nil
	default:
		return core.Address{}, errors.New("one of --name or --key is required")
	}
}

func readKeypair(path string) (keys.Keypair, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return keys.Keypair{}, fmt.Errorf("read key: %w", err)
	}
	return keys.DecodeKeypairFromZBase32(strings.TrimSpace(string(b)))
}

func cmdKeygen(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var scheme, outPath string
	fs.StringVar(&scheme, "scheme", "ed25519", "Key scheme: ed25519 or bls")
	fs.StringVar(&outPath, "out", "", "Write the keypair to this file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var kp keys.Keypair
	var err error
	switch scheme {
	case "ed25519":
		kp, err = keys.NewEd25519Keypair(rand.Reader)
	case "bls":
		kp, err = keys.NewBLSKeypair(rand.Reader)
	default:
		fmt.Fprintf(errOut, "unknown scheme: %s\n", scheme)
		return 2
	}
	if err != nil {
		fmt.Fprintf(errOut, "keygen: %v\n", err)
		return 1
	}

	secret, err := kp.EncodeToZBase32()
	if err != nil {
		fmt.Fprintf(errOut, "encode keypair: %v\n", err)
		return 1
	}
	public, err := kp.PublicKey().EncodeToZBase32()
	if err != nil {
		fmt.Fprintf(errOut, "encode public key: %v\n", err)
		return 1
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(secret+"\n"), 0600); err != nil {
			fmt.Fprintf(errOut, "write key: %v\n", err)
			return 1
		}
	} else {
		fmt.Fprintf(out, "keypair: %s\n", secret)
	}
	fmt.Fprintf(out, "public: %s\n", public)
	fmt.Fprintf(out, "name: %s\n", kp.PublicKey().Name())
	return 0
}

func cmdCreate(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var af addrFlags
	var kindName string
	sf.register(fs)
	af.register(fs)
	fs.StringVar(&kindName, "kind", "public", "Sequence kind: public or private")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var kind sequence.Kind
	switch kindName {
	case "public":
		kind = sequence.Public
	case "private":
		kind = sequence.Private
	default:
		fmt.Fprintf(errOut, "unknown kind: %s\n", kindName)
		return 2
	}

	addr, err := af.address()
	if err != nil {
		fmt.Fprintf(errOut, "create: %v\n", err)
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	if err := s.Create(ctx, addr, kind); err != nil {
		fmt.Fprintf(errOut, "create: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, addr)
	return 0
}

func cmdAppend(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("append", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var af addrFlags
	var expect int64
	var signFile string
	sf.register(fs)
	af.register(fs)
	fs.Int64Var(&expect, "expect", -1, "Expected current length (-1 disables the guard)")
	fs.StringVar(&signFile, "sign", "", "Sign the append with this key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	addr, err := af.address()
	if err != nil {
		fmt.Fprintf(errOut, "append: %v\n", err)
		return 2
	}

	entries := make([]core.Entry, fs.NArg())
	for i, a := range fs.Args() {
		entries[i] = core.Entry(a)
	}
	var expected *uint64
	if expect >= 0 {
		expected = sequence.Expect(uint64(expect))
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	var n uint64
	if signFile != "" {
		kp, err := readKeypair(signFile)
		if err != nil {
			fmt.Fprintf(errOut, "append: %v\n", err)
			return 1
		}
		id, err := message.NewID(rand.Reader)
		if err != nil {
			fmt.Fprintf(errOut, "append: %v\n", err)
			return 1
		}
		req, err := sequence.SignAppend(kp, sequence.AppendRequest{Address: addr, Entries: entries, ExpectedVersion: expected}, id)
		if err != nil {
			fmt.Fprintf(errOut, "sign: %v\n", err)
			return 1
		}
		n, err = s.AppendSigned(ctx, req)
		if err != nil {
			fmt.Fprintf(errOut, "append: %v\n", err)
			return 1
		}
	} else {
		n, err = s.Append(ctx, addr, entries, expected)
		if err != nil {
			fmt.Fprintf(errOut, "append: %v\n", err)
			return 1
		}
	}
	fmt.Fprintln(out, n)
	return 0
}

func cmdRange(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var af addrFlags
	var startText, endText string
	sf.register(fs)
	af.register(fs)
	fs.StringVar(&startText, "start", "start:0", "First version (start:N or end:N)")
	fs.StringVar(&endText, "end", "end:0", "Last version, inclusive (start:N or end:N)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	start, err := sequence.ParseVersion(startText)
	if err != nil {
		fmt.Fprintf(errOut, "range: %v\n", err)
		return 2
	}
	end, err := sequence.ParseVersion(endText)
	if err != nil {
		fmt.Fprintf(errOut, "range: %v\n", err)
		return 2
	}
	addr, err := af.address()
	if err != nil {
		fmt.Fprintf(errOut, "range: %v\n", err)
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	entries, ok, err := s.InRange(ctx, addr, start, end)
	if err != nil {
		fmt.Fprintf(errOut, "range: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(errOut, "range: [%s, %s] does not resolve\n", start, end)
		return 1
	}
	for _, e := range entries {
		fmt.Fprintln(out, string(e))
	}
	return 0
}

func cmdList(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	sf.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	err = s.List(ctx, func(info seqstore.Info) error {
		_, err := fmt.Fprintf(out, "%s\t%s\t%d\n", info.Address, info.Kind, info.Length)
		return err
	})
	if err != nil {
		fmt.Fprintf(errOut, "list: %v\n", err)
		return 1
	}
	return 0
}

func cmdExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var af addrFlags
	var outPath string
	sf.register(fs)
	af.register(fs)
	fs.StringVar(&outPath, "out", "", "Snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if outPath == "" {
		fmt.Fprintln(errOut, "export: --out is required")
		return 2
	}
	addr, err := af.address()
	if err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	root, err := s.Export(ctx, addr, outPath)
	if err != nil {
		fmt.Fprintf(errOut, "export: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, cidutil.String(root))
	return 0
}

func cmdImport(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var inPath string
	sf.register(fs)
	fs.StringVar(&inPath, "in", "", "Snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inPath == "" {
		fmt.Fprintln(errOut, "import: --in is required")
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	addr, err := s.Import(ctx, inPath)
	if err != nil {
		fmt.Fprintf(errOut, "import: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, addr)
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)
	var sf storeFlags
	var sweep bool
	sf.register(fs)
	fs.BoolVar(&sweep, "sweep", false, "Delete blocks no sequence references")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	s, err := sf.open(ctx, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return 1
	}
	defer s.Close()

	res, err := s.Verify(ctx, verify.Options{Sweep: sweep})
	if err != nil {
		fmt.Fprintf(errOut, "verify: %v\n", err)
		return 1
	}
	for _, p := range res.Problems {
		fmt.Fprintln(out, p)
	}
	fmt.Fprintf(out, "sequences=%d entries=%d blocks=%d orphans=%d swept=%d problems=%d\n",
		res.Sequences, res.Entries, res.Blocks, res.Orphans, res.Swept, len(res.Problems))
	if !res.OK() {
		return 1
	}
	return 0
}
