package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/meigma/sarfs/sar"
)

func runList(args []string, stdout io.Writer) error {
	flags := newFlagSet("ls", "<archive.sar>")
	verify := flags.Bool("verify", false, "check the CRC32 of every file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("ls needs an archive")
	}

	pkg := sar.Open(flags.Arg(0), sar.WithTolerateIncomplete())
	defer pkg.Close() //nolint:errcheck // read-only
	if !pkg.IsOk() {
		return pkg.Err()
	}
	h := pkg.Header()
	fmt.Fprintf(stdout, "changelist %d.%d, %d files, %d bytes, flags %#04x\n",
		h.BuildVersionMajor, h.BuildChangelist, h.TotalEntries, h.TotalSize, uint16(h.Flags))

	entries := pkg.FileTableAsEntries()
	if *verify {
		if err := pkg.PerformCrc32Check(context.Background(), entries); err != nil {
			return err
		}
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "OFFSET\tSTORED\tSIZE\tCRC32\tPATH\t")
	bad := 0
	for _, e := range entries {
		path := e.Path.String()
		if *verify && !e.Ok {
			path += " (corrupt)"
			bad++
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%08x\t%s\t\n",
			e.Entry.Offset, e.Entry.CompressedSize, e.Entry.UncompressedSize, e.Entry.Crc32Pre, path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d files failed verification", bad, len(entries))
	}
	return nil
}
