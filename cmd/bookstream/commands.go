package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gosimple/slug"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/simp-lee/bookstream"
	"github.com/simp-lee/bookstream/config"
)

var errUnknownDocument = errors.New("unknown document")

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "ingest",
			Usage:     "Ingests ebooks and stores their chapters",
			ArgsUsage: "FILE [FILE...]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "alternate", Usage: "use the alternate ePub reader instead of the layered extractor"},
			},
			Action: ingestFiles,
		},
		{
			Name:   "documents",
			Usage:  "Lists stored documents",
			Action: listDocuments,
		},
		{
			Name:      "chapters",
			Usage:     "Lists chapters of a stored document",
			ArgsUsage: "DOC",
			Action:    listChapters,
		},
		{
			Name:      "page",
			Usage:     "Prints a page and records it as the reading position",
			ArgsUsage: "DOC [CHAPTER [PAGE]]",
			UsageText: "without CHAPTER reading resumes from the saved position",
			Action:    showPage,
		},
		{
			Name:      "lookup",
			Usage:     "Shows a word, its page and the sentence around it",
			ArgsUsage: "DOC CHAPTER WORD",
			Action:    lookupWord,
		},
		{
			Name:      "progress",
			Usage:     "Shows or sets the saved reading position",
			ArgsUsage: "DOC [CHAPTER OFFSET PROGRESS]",
			Action:    readingProgress,
		},
		{
			Name:      "export",
			Usage:     "Writes chapter text to a directory, one file per chapter",
			ArgsUsage: "DOC DIR",
			Action:    exportText,
		},
		{
			Name:      "dumpconfig",
			Usage:     "Dumps either default or actual configuration (YAML)",
			ArgsUsage: "[DESTINATION]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "default", Usage: "dump default configuration embedded in the program"},
			},
			Action: outputConfiguration,
		},
	}
}

func out(cmd *cli.Command) io.Writer {
	return cmd.Root().Writer
}

func ingestFiles(ctx context.Context, cmd *cli.Command) (err error) {
	env := envFromContext(ctx)

	if cmd.Args().Len() == 0 {
		return errors.New("no files to ingest")
	}
	st, err := env.storage(ctx)
	if err != nil {
		return err
	}
	opts, err := env.Cfg.Reader.Options(env.Log.Named("ingest"))
	if err != nil {
		return err
	}

	for _, fname := range cmd.Args().Slice() {
		log := env.Log.With(zap.String("file", fname))

		doc, er := ingestFile(ctx, fname, cmd.Bool("alternate"), opts)
		if er != nil {
			var ce *bookstream.ContainerError
			if errors.As(er, &ce) {
				log.Warn("Unable to ingest", zap.Stringer("kind", ce.Kind), zap.String("remedy", ce.Remedy()))
			}
			err = multierr.Append(err, fmt.Errorf("%s: %w", fname, er))
			continue
		}
		for _, w := range doc.Warnings() {
			log.Debug("Ingestion warning", zap.String("warning", w))
		}
		if er := st.StoreChapters(ctx, doc.ID, doc.Chapters); er != nil {
			err = multierr.Append(err, fmt.Errorf("%s: unable to store chapters: %w", fname, er))
			continue
		}
		log.Info("Ingested", zap.String("id", doc.ID), zap.Int("chapters", len(doc.Chapters)), zap.Int("warnings", len(doc.Warnings())))
		fmt.Fprintf(out(cmd), "%s\t%d\t%s\n", doc.ID, len(doc.Chapters), doc.Metadata.Title())
	}
	return err
}

func ingestFile(ctx context.Context, fname string, alternate bool, opts []bookstream.Option) (*bookstream.Document, error) {
	if !alternate {
		return bookstream.Open(ctx, fname, opts...)
	}
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return bookstream.IngestAlternate(ctx, data, opts...)
}

func listDocuments(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	st, err := env.storage(ctx)
	if err != nil {
		return err
	}
	ids, err := st.Documents(ctx)
	if err != nil {
		return fmt.Errorf("unable to list documents: %w", err)
	}
	for _, id := range ids {
		chapters, err := st.LoadChapters(ctx, id)
		if err != nil {
			return fmt.Errorf("unable to load document %s: %w", id, err)
		}
		title := ""
		for _, ch := range chapters {
			if ch.HasTitle() {
				title = ch.Title
				break
			}
		}
		fmt.Fprintf(out(cmd), "%s\t%d\t%s\n", id, len(chapters), title)
	}
	return nil
}

// loadDocument returns the stored chapters of the document named by the
// first argument.
func loadDocument(ctx context.Context, cmd *cli.Command) (string, []bookstream.Chapter, error) {
	env := envFromContext(ctx)

	id := cmd.Args().First()
	if id == "" {
		return "", nil, errors.New("document id is required")
	}
	st, err := env.storage(ctx)
	if err != nil {
		return "", nil, err
	}
	chapters, err := st.LoadChapters(ctx, id)
	if err != nil {
		return "", nil, fmt.Errorf("unable to load document %s: %w", id, err)
	}
	if len(chapters) == 0 {
		return "", nil, fmt.Errorf("%w: %s", errUnknownDocument, id)
	}
	return id, chapters, nil
}

func intArg(cmd *cli.Command, n int, name string) (int, error) {
	s := cmd.Args().Get(n)
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("bad %s %q", name, s)
	}
	return v, nil
}

func chapterArg(cmd *cli.Command, n int, chapters []bookstream.Chapter) (int, error) {
	idx, err := intArg(cmd, n, "chapter")
	if err != nil {
		return 0, err
	}
	if idx >= len(chapters) {
		return 0, fmt.Errorf("chapter %d out of range, document has %d", idx, len(chapters))
	}
	return idx, nil
}

func layoutOf(env *localEnv, ch bookstream.Chapter) *bookstream.Layout {
	return bookstream.Paginate(bookstream.Segment(ch.RawMarkup), env.Cfg.Reader.PageWords)
}

func listChapters(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	_, chapters, err := loadDocument(ctx, cmd)
	if err != nil {
		return err
	}
	for _, ch := range chapters {
		l := layoutOf(env, ch)
		title := ch.Title
		if !ch.HasTitle() {
			title = "(untitled)"
		}
		var flags string
		if !ch.Linear {
			flags += " non-linear"
		}
		if ch.IsLicense {
			flags += " license"
		}
		fmt.Fprintf(out(cmd), "%3d  %s  tokens=%d pages=%d%s\n", ch.Order, title, l.Total(), l.PageCount(), flags)
	}
	return nil
}

func showPage(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	id, chapters, err := loadDocument(ctx, cmd)
	if err != nil {
		return err
	}
	tracker, err := env.progressTracker(ctx)
	if err != nil {
		return err
	}

	var chapter, page int
	var layout *bookstream.Layout
	if cmd.Args().Len() < 2 {
		rp, err := tracker.Resume(ctx, id, len(chapters), func(_ context.Context, i int) (*bookstream.Layout, error) {
			layout = layoutOf(env, chapters[i])
			return layout, nil
		})
		if err != nil {
			return fmt.Errorf("unable to resume reading: %w", err)
		}
		chapter, page = rp.Chapter, rp.Page
		if layout == nil {
			layout = layoutOf(env, chapters[chapter])
		}
	} else {
		if chapter, err = chapterArg(cmd, 1, chapters); err != nil {
			return err
		}
		if cmd.Args().Len() > 2 {
			if page, err = intArg(cmd, 2, "page"); err != nil {
				return err
			}
		}
		layout = layoutOf(env, chapters[chapter])
	}

	pg, ok := layout.Page(page)
	if !ok {
		return fmt.Errorf("page %d out of range, chapter %d has %d", page, chapter, layout.PageCount())
	}

	w := out(cmd)
	fmt.Fprintf(w, "[chapter %d, page %d/%d]\n", chapter, page+1, layout.PageCount())
	for _, ps := range layout.PageView(page) {
		fmt.Fprintln(w, ps.Text())
	}

	pos := bookstream.Position{Word: pg.Start}
	if total := layout.Total(); total > 0 {
		pos.Progress = float64(pg.Start) / float64(total)
	}
	return tracker.Save(id, chapter, pos)
}

func lookupWord(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	_, chapters, err := loadDocument(ctx, cmd)
	if err != nil {
		return err
	}
	chapter, err := chapterArg(cmd, 1, chapters)
	if err != nil {
		return err
	}
	word, err := intArg(cmd, 2, "word")
	if err != nil {
		return err
	}

	layout := layoutOf(env, chapters[chapter])
	tok, ok := layout.Token(word)
	if !ok {
		return fmt.Errorf("word %d out of range, chapter %d has %d tokens", word, chapter, layout.Total())
	}
	if !tok.Word {
		env.Log.Debug("Token is not a word", zap.Int("index", word), zap.String("text", tok.Text))
	}
	sentence, _ := layout.Sentence(word)

	w := out(cmd)
	fmt.Fprintf(w, "%s\tpage %d\n", tok.Text, layout.PageOf(word)+1)
	fmt.Fprintln(w, sentence)
	return nil
}

func readingProgress(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	id, chapters, err := loadDocument(ctx, cmd)
	if err != nil {
		return err
	}
	tracker, err := env.progressTracker(ctx)
	if err != nil {
		return err
	}

	if cmd.Args().Len() > 1 {
		chapter, err := chapterArg(cmd, 1, chapters)
		if err != nil {
			return err
		}
		offset, err := intArg(cmd, 2, "offset")
		if err != nil {
			return err
		}
		progress, err := strconv.ParseFloat(cmd.Args().Get(3), 64)
		if err != nil {
			return fmt.Errorf("bad progress %q", cmd.Args().Get(3))
		}
		return tracker.Save(id, chapter, bookstream.Position{Offset: offset, Progress: progress, Word: -1})
	}

	rp, ok, err := tracker.Load(ctx, id, len(chapters))
	if err != nil {
		return fmt.Errorf("unable to load reading progress: %w", err)
	}
	if !ok {
		fmt.Fprintln(out(cmd), "not started")
		return nil
	}
	pos, err := bookstream.DecodePosition(rp.Position)
	if err != nil {
		env.Log.Warn("Undecodable reading position", zap.String("position", rp.Position), zap.Error(err))
	}
	fmt.Fprintf(out(cmd), "chapter %d\toffset %d\tprogress %.2f\tword %d\n", rp.ChapterIndex, pos.Offset, pos.Progress, pos.Word)
	return nil
}

func exportText(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	_, chapters, err := loadDocument(ctx, cmd)
	if err != nil {
		return err
	}
	dir := cmd.Args().Get(1)
	if dir == "" {
		return errors.New("destination directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create destination directory: %w", err)
	}

	for _, ch := range chapters {
		name := slug.Make(ch.Title)
		if name == "" {
			name = "chapter"
		}
		fname := filepath.Join(dir, fmt.Sprintf("%03d-%s.txt", ch.Order, name))
		if err := os.WriteFile(fname, []byte(ch.PlainText), 0o644); err != nil {
			return fmt.Errorf("unable to write chapter %d: %w", ch.Order, err)
		}
		env.Log.Debug("Exported chapter", zap.String("file", fname))
	}
	fmt.Fprintf(out(cmd), "%d chapters written to %s\n", len(chapters), dir)
	return nil
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {
	env := envFromContext(ctx)

	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	w := out(cmd)
	if len(fname) > 0 {
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer f.Close()
		w = f
	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	if _, err = w.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
