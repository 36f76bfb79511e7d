//go:build ignore

// Generates a synthetic project tree for index and search benchmarks.
// Usage: go run scripts/generate-test-corpus.go -files 1000 -output testdata/bench
//
// Files are long enough to split into several chunk windows, mix code
// and prose, and draw identifiers from a fixed vocabulary so benchmark
// queries ("parse config", "retry backoff") hit a predictable slice of
// the corpus. The same seed always produces the same tree.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed")
)

// Topic vocabulary. Each file commits to one topic so a query about it
// ranks that file's chunks above the rest of the corpus.
var topics = []struct {
	name  string
	verbs []string
	nouns []string
}{
	{"config", []string{"Load", "Parse", "Validate", "Merge"}, []string{"Config", "Profile", "Setting", "Override"}},
	{"retry", []string{"Retry", "Backoff", "Attempt", "Reset"}, []string{"Policy", "Deadline", "Budget", "Jitter"}},
	{"cache", []string{"Get", "Put", "Evict", "Warm"}, []string{"Cache", "Entry", "Shard", "Ttl"}},
	{"queue", []string{"Enqueue", "Dequeue", "Drain", "Ack"}, []string{"Queue", "Message", "Consumer", "Batch"}},
	{"auth", []string{"Authenticate", "Authorize", "Refresh", "Revoke"}, []string{"Token", "Session", "Credential", "Scope"}},
	{"storage", []string{"Read", "Write", "Compact", "Snapshot"}, []string{"Store", "Segment", "Index", "Manifest"}},
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output directory: %v\n", err)
		os.Exit(1)
	}

	goFiles := *numFiles * 60 / 100
	pyFiles := *numFiles * 25 / 100
	mdFiles := *numFiles - goFiles - pyFiles

	for i := 0; i < goFiles; i++ {
		writeCorpusFile(rng, "go", i, goFile)
	}
	for i := 0; i < pyFiles; i++ {
		writeCorpusFile(rng, "py", i, pyFile)
	}
	for i := 0; i < mdFiles; i++ {
		writeCorpusFile(rng, "docs", i, mdFile)
	}

	// A .gitignore plus matching noise, so scanner filtering costs
	// show up in the benchmark too.
	gi := filepath.Join(*outputDir, ".gitignore")
	if err := os.WriteFile(gi, []byte("build/\n*.log\n"), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write .gitignore: %v\n", err)
		os.Exit(1)
	}
	must(os.MkdirAll(filepath.Join(*outputDir, "build"), 0o755))
	must(os.WriteFile(filepath.Join(*outputDir, "build", "out.log"),
		[]byte("ignored\n"), 0o644))

	fmt.Printf("Generated %d files in %s\n", *numFiles, *outputDir)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func writeCorpusFile(rng *rand.Rand, sub string, i int, gen func(*rand.Rand, int) (string, string)) {
	dir := filepath.Join(*outputDir, sub)
	must(os.MkdirAll(dir, 0o755))
	name, content := gen(rng, i)
	must(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// goFile emits a package with enough functions to span several chunk
// windows.
func goFile(rng *rand.Rand, i int) (string, string) {
	t := topics[rng.Intn(len(topics))]
	var b strings.Builder
	fmt.Fprintf(&b, "// Package %s%d handles %s concerns.\npackage %s%d\n\n", t.name, i, t.name, t.name, i)
	fmt.Fprintf(&b, "import (\n\t\"context\"\n\t\"fmt\"\n)\n\n")
	for f := 0; f < 6; f++ {
		verb := t.verbs[rng.Intn(len(t.verbs))]
		noun := t.nouns[rng.Intn(len(t.nouns))]
		fmt.Fprintf(&b, "// %s%s applies the %s %s step.\n", verb, noun, t.name, strings.ToLower(noun))
		fmt.Fprintf(&b, "func %s%s(ctx context.Context, in string) (string, error) {\n", verb, noun)
		fmt.Fprintf(&b, "\tif ctx.Err() != nil {\n\t\treturn \"\", ctx.Err()\n\t}\n")
		for l := 0; l < 4+rng.Intn(6); l++ {
			fmt.Fprintf(&b, "\tin = fmt.Sprintf(\"%s-%%s-%d\", in)\n", t.name, l)
		}
		fmt.Fprintf(&b, "\treturn in, nil\n}\n\n")
	}
	return fmt.Sprintf("%s_%d.go", t.name, i), b.String()
}

func pyFile(rng *rand.Rand, i int) (string, string) {
	t := topics[rng.Intn(len(topics))]
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"%s helpers.\"\"\"\n\n", t.name)
	for f := 0; f < 5; f++ {
		verb := strings.ToLower(t.verbs[rng.Intn(len(t.verbs))])
		noun := strings.ToLower(t.nouns[rng.Intn(len(t.nouns))])
		fmt.Fprintf(&b, "def %s_%s(value):\n", verb, noun)
		fmt.Fprintf(&b, "    \"\"\"Run the %s %s step.\"\"\"\n", t.name, noun)
		for l := 0; l < 3+rng.Intn(5); l++ {
			fmt.Fprintf(&b, "    value = \"%s:\" + str(value) + \":%d\"\n", t.name, l)
		}
		fmt.Fprintf(&b, "    return value\n\n\n")
	}
	return fmt.Sprintf("%s_%d.py", t.name, i), b.String()
}

func mdFile(rng *rand.Rand, i int) (string, string) {
	t := topics[rng.Intn(len(topics))]
	var b strings.Builder
	fmt.Fprintf(&b, "# %s guide\n\n", strings.ToUpper(t.name[:1])+t.name[1:])
	for s := 0; s < 4; s++ {
		noun := t.nouns[rng.Intn(len(t.nouns))]
		fmt.Fprintf(&b, "## %s\n\n", noun)
		fmt.Fprintf(&b, "How the %s layer manages its %s, with the trade-offs\n", t.name, strings.ToLower(noun))
		fmt.Fprintf(&b, "involved and when to tune it. Defaults work for most trees;\n")
		fmt.Fprintf(&b, "override them per project when the %s load is unusual.\n\n", t.name)
	}
	return fmt.Sprintf("%s_%d.md", t.name, i), b.String()
}
