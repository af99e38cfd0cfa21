// grftool packs, lists and extracts GRF archives and inspects the models
// they hold.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/Faultbox/midgard-vk/internal/assets"
	"github.com/Faultbox/midgard-vk/internal/importer"
	"github.com/Faultbox/midgard-vk/internal/logger"
	"github.com/Faultbox/midgard-vk/internal/scene"
	"github.com/Faultbox/midgard-vk/pkg/grf"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "info":
		err = cmdInfo(args)
	case "list", "ls":
		err = cmdList(args)
	case "extract", "x":
		err = cmdExtract(args)
	case "pack":
		err = cmdPack(args)
	case "inspect":
		err = cmdInspect(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`grftool - GRF archive and model utility

Usage:
  grftool <command> [options]

Commands:
  info <file.grf>                     Show archive information
  list [-n N] <file.grf> [pattern]    List files (optional glob pattern)
  extract <file.grf> <pattern> [dir]  Extract matching files, keeping paths
  pack <out.grf> <dir>                Pack a directory into an archive
  inspect [-grf f] [-root d] <model>  Import a model and print its mesh ranges

Examples:
  grftool list data.grf "*.rsm"
  grftool extract data.grf "*.rsm" ./out
  grftool pack models.grf ./out
  grftool inspect -grf data.grf data/model/prontera/fountain.rsm`)
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: grftool info <file.grf>")
	}
	archive, err := grf.Open(args[0])
	if err != nil {
		return err
	}
	defer archive.Close()

	extCount := make(map[string]int)
	var packed, unpacked uint64
	for _, f := range archive.List() {
		ext := strings.ToLower(filepath.Ext(f))
		if ext == "" {
			ext = "(no ext)"
		}
		extCount[ext]++
		if e, ok := archive.Stat(f); ok {
			packed += uint64(e.CompressedSize)
			unpacked += uint64(e.UncompressedSize)
		}
	}

	fmt.Printf("Archive:  %s\n", args[0])
	fmt.Printf("Files:    %d\n", archive.Len())
	fmt.Printf("Packed:   %.2f MB\n", float64(packed)/(1024*1024))
	fmt.Printf("Unpacked: %.2f MB\n", float64(unpacked)/(1024*1024))
	fmt.Println()
	fmt.Println("Files by type:")

	exts := make([]string, 0, len(extCount))
	for ext := range extCount {
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool {
		if extCount[exts[i]] != extCount[exts[j]] {
			return extCount[exts[i]] > extCount[exts[j]]
		}
		return exts[i] < exts[j]
	})
	for _, ext := range exts {
		fmt.Printf("  %-10s %d\n", ext, extCount[ext])
	}
	return nil
}

// match reports whether name matches a glob on its base name or contains
// pattern as a substring. Both sides are compared in lower case.
func match(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	pattern, name = strings.ToLower(pattern), strings.ToLower(name)
	if ok, _ := filepath.Match(pattern, filepath.Base(name)); ok {
		return true
	}
	return !strings.ContainsAny(pattern, "*?[") && strings.Contains(name, pattern)
}

func cmdList(args []string) error {
	fset := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fset.Int("n", 0, "Limit output to N files (0 = all)")
	fset.Parse(args)

	if fset.NArg() < 1 {
		return fmt.Errorf("usage: grftool list [-n N] <file.grf> [pattern]")
	}
	archive, err := grf.Open(fset.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	count := 0
	for _, f := range archive.List() {
		if !match(fset.Arg(1), f) {
			continue
		}
		fmt.Println(f)
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "\n(%d files)\n", count)
	return nil
}

func cmdExtract(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: grftool extract <file.grf> <pattern> [dir]")
	}
	outputDir := "."
	if len(args) > 2 {
		outputDir = args[2]
	}
	archive, err := grf.Open(args[0])
	if err != nil {
		return err
	}
	defer archive.Close()

	extracted := 0
	for _, f := range archive.List() {
		if !match(args[1], f) {
			continue
		}
		data, err := archive.Read(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", f, err)
			continue
		}
		outputPath := filepath.Join(outputDir, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Extracted: %s (%d bytes)\n", outputPath, len(data))
		extracted++
	}
	fmt.Fprintf(os.Stderr, "\nExtracted %d files\n", extracted)
	return nil
}

func cmdPack(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: grftool pack <out.grf> <dir>")
	}
	w, err := packDir(args[1])
	if err != nil {
		return err
	}
	out, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := w.WriteTo(out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", args[0], err)
	}
	fmt.Printf("Packed: %s (%d bytes)\n", args[0], n)
	return nil
}

// packDir stages every regular file under dir with its slash-separated
// relative path.
func packDir(dir string) (*grf.Writer, error) {
	w := grf.NewWriter()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		w.Add(filepath.ToSlash(rel), data)
		return nil
	})
	return w, err
}

func cmdInspect(args []string) error {
	fset := flag.NewFlagSet("inspect", flag.ExitOnError)
	var archives, roots multiFlag
	fset.Var(&archives, "grf", "GRF archive to read (repeatable)")
	fset.Var(&roots, "root", "Directory to read (repeatable)")
	textureDir := fset.String("textures", "data/texture", "Texture directory prefix")
	fset.Parse(args)

	if fset.NArg() < 1 {
		return fmt.Errorf("usage: grftool inspect [-grf f] [-root d] <model>")
	}
	if len(roots) == 0 && len(archives) == 0 {
		roots = multiFlag{"."}
	}
	src, err := assets.Open(roots, archives)
	if err != nil {
		return err
	}
	defer src.Close()

	im := importer.New(src, importer.Options{TextureDir: *textureDir})
	for _, ref := range fset.Args() {
		if err := inspect(im, ref); err != nil {
			return err
		}
	}
	return nil
}

func inspect(im *importer.Importer, ref string) error {
	source, err := im.Import(ref)
	if err != nil {
		return err
	}
	model, err := scene.BuildModel(source, nil, logger.Log)
	if err != nil {
		return err
	}
	meshes := model.Meshes()
	_, _, ranges := scene.Batch(meshes)

	nodes := 0
	if source.Graph != nil {
		nodes = source.Graph.Len()
	}
	fmt.Printf("%s: %d nodes, %d meshes\n", ref, nodes, len(meshes))
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MESH\tVERTEX OFFSET\tVERTICES\tINDEX OFFSET\tINDICES\tTEXTURES")
	for i, r := range ranges {
		var textures []string
		for kind, path := range source.Meshes[i].Textures {
			textures = append(textures, kind.String()+"="+path)
		}
		sort.Strings(textures)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", meshes[i].Name,
			r.VertexOffset, r.VertexCount, r.IndexOffset, r.IndexCount, strings.Join(textures, " "))
	}
	return tw.Flush()
}

// multiFlag is a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
