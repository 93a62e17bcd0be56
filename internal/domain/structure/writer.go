package structure

import (
	"bufio"
	"fmt"
	"io"
)

// WritePDB writes s as CA-only ATOM records, enough for external tools that
// consume a Cα trace.
func WritePDB(w io.Writer, s *Structure) error {
	bw := bufio.NewWriter(w)
	for i, r := range s.Residues {
		name := r.Name
		if name == "" {
			name = "UNK"
		}
		chain := r.Chain
		if chain == "" {
			chain = "A"
		}
		ins := r.InsCode
		if ins == "" {
			ins = " "
		}
		if _, err := fmt.Fprintf(bw, "ATOM  %5d  CA  %3.3s %1.1s%4d%1.1s   %8.3f%8.3f%8.3f  1.00  0.00           C\n",
			(i+1)%100000, name, chain, r.Number, ins, r.CA[0], r.CA[1], r.CA[2]); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("END\n"); err != nil {
		return err
	}
	return bw.Flush()
}
