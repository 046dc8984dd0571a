package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gnolang/tdfa/internal/analysis/ir"
)

var irCmd = &cobra.Command{
	Use:   "ir [files...]",
	Short: "Print the bound instruction listing of program files",
	Long: `Loads each program file and prints its instructions with their
successors and join points.
Example) tdfa ir testdata/loop.dfa.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println("error: Please provide program files")
			os.Exit(1)
		}
		failed := false
		for _, path := range args {
			p, err := ir.LoadFile(path)
			if err != nil {
				logger.Error("Failed to load program", zap.String("path", path), zap.Error(err))
				failed = true
				continue
			}
			writeProgram(cmd.OutOrStdout(), p)
		}
		if failed {
			os.Exit(1)
		}
	},
}

func writeProgram(w io.Writer, p *ir.Program) {
	fmt.Fprintf(w, "program %s\n", p.Name)
	for _, c := range p.Init {
		fmt.Fprintf(w, "  init %s = %s\n", c.Var, c.Type)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Instruction", "Successors", "Join"})
	table.SetAutoWrapText(false)
	for i, inst := range p.Instructions {
		succ := make([]string, 0, 2)
		for _, s := range p.Successors(i) {
			succ = append(succ, strconv.Itoa(s))
		}
		join := ""
		if p.IsJoin(i) {
			join = "*"
		}
		table.Append([]string{strconv.Itoa(i), inst.String(), strings.Join(succ, ","), join})
	}
	table.Render()
}
