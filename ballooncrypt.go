package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/zeebo/blake3"
	"golang.org/x/term"

	"github.com/Voornaamenachternaam/ballooncrypt/internal/config"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/engine"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/kdf"
	"github.com/Voornaamenachternaam/ballooncrypt/internal/secure"
)

const (
	defaultPasswordLength = 15
	maxPasswordLength     = 1024
)

var (
	inputFlag   = cli.StringFlag{Name: "i", Usage: "input file (relative path, no .. allowed)"}
	outputFlag  = cli.StringFlag{Name: "o", Usage: "output file"}
	headerFlag  = cli.StringFlag{Name: "header", Usage: "keep the header in a separate file"}
	hashFlag    = cli.BoolFlag{Name: "hash", Usage: "print the BLAKE3 digest of the written output"}
	keyfileFlag = cli.StringFlag{Name: "keyfile, k", Usage: "use the contents of a file instead of a password"}
)

type runner struct {
	cfg *config.Config
	log *slog.Logger
	eng *engine.Engine
	out io.Writer
}

func main() {
	r := &runner{out: os.Stdout}

	app := cli.NewApp()
	app.Name = "ballooncrypt"
	app.Usage = "password-based file encryption (BLAKE3-Balloon, XChaCha20-Poly1305)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "YAML configuration file",
			EnvVar: "BALLOONCRYPT_CONFIG",
		},
	}
	app.Before = func(c *cli.Context) error {
		return r.setup(c.GlobalString("config"))
	}
	app.Commands = []cli.Command{
		{
			Name:   "enc",
			Usage:  "encrypt a file",
			Flags:  []cli.Flag{inputFlag, outputFlag, headerFlag, hashFlag, keyfileFlag},
			Action: r.encrypt,
		},
		{
			Name:   "dec",
			Usage:  "decrypt a file",
			Flags:  []cli.Flag{inputFlag, outputFlag, headerFlag, hashFlag, keyfileFlag},
			Action: r.decrypt,
		},
		{
			Name:   "inspect",
			Usage:  "show which algorithms protect a file",
			Flags:  []cli.Flag{inputFlag},
			Action: r.inspect,
		},
		{
			Name:  "pw",
			Usage: "generate a random password",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "s", Value: defaultPasswordLength, Usage: "size of password to generate"},
			},
			Action: r.password,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Processing failed: %v\n", err)
		os.Exit(1)
	}
}

func (r *runner) setup(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "configuration")
	}
	r.cfg = cfg
	r.log = newLogger(os.Stderr, cfg)
	eng, err := engine.New(
		engine.WithParamVersion(cfg.ParamVersion),
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(r.log),
	)
	if err != nil {
		return err
	}
	r.eng = eng
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.JSONLogs() {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func (r *runner) encrypt(c *cli.Context) error {
	in, out, hdr := c.String("i"), c.String("o"), c.String("header")
	if err := validateFileInput(in, out, hdr); err != nil {
		return errors.Wrap(err, "input validation failed")
	}

	password, err := passwordSource(c.String("keyfile"), out, hdr, func() (*secure.Buffer, error) {
		return readPasswordPromptConfirm("Enter a strong password: ", "Confirm password: ")
	})
	if err != nil {
		return errors.Wrap(err, "password input failed")
	}
	defer password.Destroy()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	digest, err := encryptFile(ctx, r.eng, in, out, hdr, password.Bytes())
	if err != nil {
		return errors.Wrap(err, "encryption failed")
	}
	r.report(c, digest, start)
	return nil
}

func (r *runner) decrypt(c *cli.Context) error {
	in, out, hdr := c.String("i"), c.String("o"), c.String("header")
	if err := validateFileInput(in, out, hdr); err != nil {
		return errors.Wrap(err, "input validation failed")
	}

	password, err := passwordSource(c.String("keyfile"), out, hdr, func() (*secure.Buffer, error) {
		return readPassword("Enter password: ")
	})
	if err != nil {
		return errors.Wrap(err, "password input failed")
	}
	defer password.Destroy()

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	digest, err := decryptFile(ctx, r.eng, in, out, hdr, password.Bytes())
	if err != nil {
		return errors.Wrap(err, "decryption failed")
	}
	r.report(c, digest, start)
	return nil
}

func (r *runner) report(c *cli.Context, digest string, start time.Time) {
	if c.Bool("hash") {
		fmt.Fprintf(r.out, "BLAKE3: %s\n", digest)
	}
	fmt.Fprintf(r.out, "Processing successful (took %s)\n", time.Since(start).Round(time.Millisecond))
}

func (r *runner) inspect(c *cli.Context) error {
	in := c.String("i")
	if err := validateFilePath(in); err != nil {
		return errors.Wrap(err, "path validation failed")
	}
	return inspectFile(r.out, in)
}

func (r *runner) password(c *cli.Context) error {
	p, err := generatePassword(c.Int("s"))
	if err != nil {
		return errors.Wrap(err, "password generation failed")
	}
	fmt.Fprintln(r.out, p)
	return nil
}

// encryptFile encrypts in to out, or to out plus a separate header file when
// hdrPath is set. It returns the hex BLAKE3 digest of what was written to out.
func encryptFile(ctx context.Context, eng *engine.Engine, in, out, hdrPath string, password []byte) (string, error) {
	src, err := os.Open(in)
	if err != nil {
		return "", errors.Wrap(err, "file access failed")
	}
	defer src.Close()

	var hdrFile *atomicFile
	if hdrPath != "" {
		if hdrFile, err = createAtomic(hdrPath); err != nil {
			return "", err
		}
		defer hdrFile.abort()
	}
	dst, err := createAtomic(out)
	if err != nil {
		return "", err
	}
	defer dst.abort()

	h := blake3.New()
	body := io.MultiWriter(dst, h)
	if hdrFile != nil {
		err = eng.EncryptDetached(ctx, password, hdrFile, body, src)
	} else {
		err = eng.Encrypt(ctx, password, body, src)
	}
	if err != nil {
		return "", err
	}

	if hdrFile != nil {
		if err := hdrFile.commit(); err != nil {
			return "", err
		}
	}
	if err := dst.commit(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// decryptFile decrypts in to out. Nothing is left at out unless every chunk
// authenticated.
func decryptFile(ctx context.Context, eng *engine.Engine, in, out, hdrPath string, password []byte) (string, error) {
	src, err := os.Open(in)
	if err != nil {
		return "", errors.Wrap(err, "file access failed")
	}
	defer src.Close()

	dst, err := createAtomic(out)
	if err != nil {
		return "", err
	}
	defer dst.abort()

	h := blake3.New()
	plain := io.MultiWriter(dst, h)
	if hdrPath != "" {
		var hdrFile *os.File
		if hdrFile, err = os.Open(hdrPath); err != nil {
			return "", errors.Wrap(err, "header file access failed")
		}
		defer hdrFile.Close()
		err = eng.DecryptDetached(ctx, password, plain, hdrFile, src)
	} else {
		err = eng.Decrypt(ctx, password, plain, src)
	}
	if err != nil {
		return "", err
	}

	if err := dst.commit(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func inspectFile(w io.Writer, in string) error {
	f, err := os.Open(in)
	if err != nil {
		return errors.Wrap(err, "file access failed")
	}
	defer f.Close()

	md, err := engine.InspectHeader(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Format version:  %d\n", md.Version)
	fmt.Fprintf(w, "Cipher:          %s\n", md.Cipher)
	fmt.Fprintf(w, "Hashing:         %s\n", md.Hashing)
	if p, err := kdf.Default().Params(md.ParamVersion); err == nil {
		fmt.Fprintf(w, "Parameters:      %s (%s)\n", md.ParamVersion, p.Description)
	} else {
		fmt.Fprintf(w, "Parameters:      %s (unknown to this build)\n", md.ParamVersion)
	}
	return nil
}

// atomicFile is written under a temporary name next to its destination and
// only renamed into place by commit.
type atomicFile struct {
	*os.File
	path string
	done bool
}

func createAtomic(path string) (*atomicFile, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, "file creation failed")
	}
	return &atomicFile{File: f, path: path}, nil
}

func (f *atomicFile) commit() error {
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "file sync failed")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "file close failed")
	}
	if err := os.Rename(f.Name(), f.path); err != nil {
		return errors.Wrap(err, "file rename failed")
	}
	f.done = true
	return nil
}

func (f *atomicFile) abort() {
	if f.done {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func validateFilePath(p string) error {
	if p == "" {
		return errors.New("empty path")
	}
	cleaned := filepath.Clean(p)
	if filepath.IsAbs(cleaned) {
		return errors.New("absolute paths not allowed")
	}
	for _, part := range strings.Split(cleaned, string(os.PathSeparator)) {
		if part == ".." {
			return errors.New("directory traversal not allowed")
		}
	}
	return nil
}

func validateFileInput(in, out, hdr string) error {
	if in == "" || !fileExists(in) {
		return errors.New("valid input file required")
	}
	if out == "" {
		return errors.New("output file required")
	}
	paths := []string{in, out}
	if hdr != "" {
		paths = append(paths, hdr)
	}
	for _, p := range paths {
		if err := validateFilePath(p); err != nil {
			return errors.Wrap(err, "path validation failed")
		}
	}
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[filepath.Clean(p)] {
			return errors.New("input, output and header files must be different")
		}
		seen[filepath.Clean(p)] = true
	}
	return nil
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// passwordSource reads the keyfile when one is given and falls back to
// prompt otherwise. The keyfile may not be one of the files being written.
func passwordSource(keyfile, out, hdr string, prompt func() (*secure.Buffer, error)) (*secure.Buffer, error) {
	if keyfile == "" {
		return prompt()
	}
	if err := validateFilePath(keyfile); err != nil {
		return nil, errors.Wrap(err, "keyfile path validation failed")
	}
	for _, p := range []string{out, hdr} {
		if p != "" && filepath.Clean(p) == filepath.Clean(keyfile) {
			return nil, errors.New("keyfile must not be an output file")
		}
	}
	return readKeyfile(keyfile)
}

// readKeyfile uses the whole file as the password.
func readKeyfile(path string) (*secure.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "keyfile read failed")
	}
	if len(data) == 0 {
		return nil, errors.Wrap(engine.ErrEmptyPassword, "keyfile is empty")
	}
	return secure.NewBufferFromBytes(data), nil
}

func readPassword(prompt string) (*secure.Buffer, error) {
	if !isTerminal(os.Stdin.Fd()) {
		return nil, errors.New("interactive input required")
	}
	fmt.Fprint(os.Stderr, prompt)
	p, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, errors.Wrap(err, "password read failed")
	}
	if len(p) == 0 {
		return nil, engine.ErrEmptyPassword
	}
	return secure.NewBufferFromBytes(p), nil
}

func readPasswordPromptConfirm(prompt, confirmPrompt string) (*secure.Buffer, error) {
	p1, err := readPassword(prompt)
	if err != nil {
		return nil, err
	}
	p2, err := readPassword(confirmPrompt)
	if err != nil {
		p1.Destroy()
		return nil, errors.Wrap(err, "password confirmation failed")
	}
	defer p2.Destroy()
	if subtle.ConstantTimeCompare(p1.Bytes(), p2.Bytes()) != 1 {
		p1.Destroy()
		return nil, errors.New("password mismatch")
	}
	return p1, nil
}

func generatePassword(n int) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-!@#$%^&*()[]{}"
	if n <= 0 || n > maxPasswordLength {
		return "", errors.Errorf("invalid password length %d", n)
	}
	var result strings.Builder
	result.Grow(n)
	limit := big.NewInt(int64(len(letters)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.Wrap(secure.ErrEntropy, err.Error())
		}
		result.WriteByte(letters[idx.Int64()])
	}
	return result.String(), nil
}
