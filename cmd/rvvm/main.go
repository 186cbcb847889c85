// Command rvvm boots a minimal RISC-V machine: it loads a raw binary
// into guest RAM, attaches an Ethernet MAC, and runs every hart until
// halted.
//
// Flag parsing follows main.go's plain flag.StringVar/flag.IntVar
// style; the CLI surface (-mem, -smp, -kernel, -image, -dtb,
// -dumpdtb, -res, -nogui, -rv64) is named in full per the
// specification's §6 external interface, even though several flags
// are accepted rather than deeply implemented — framebuffer output
// and full RV64 are out of this core's scope.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rvvm-go/rvvm/internal/ethoc"
	"github.com/rvvm-go/rvvm/internal/fdt"
	"github.com/rvvm-go/rvvm/internal/machine"
	"github.com/rvvm-go/rvvm/internal/rvlog"
)

// Version is stamped at release time; "dev" otherwise.
const Version = "dev"

const (
	defaultRAMBegin = 0x80000000
	ethocBase       = 0x10090000
	ethocIRQ        = 1
)

func main() {
	var (
		memSize  = flag.Uint64("mem", 256, "RAM size in megabytes")
		smp      = flag.Int("smp", 1, "number of harts")
		kernel   = flag.String("kernel", "", "raw RV32I binary to load at the base of RAM")
		image    = flag.String("image", "", "disk image path (named only, not attached by this core)")
		dtbIn    = flag.String("dtb", "", "custom device-tree blob to load (named only)")
		dumpDTB  = flag.String("dumpdtb", "", "write the autogenerated device tree to this path and exit")
		res      = flag.String("res", "", "framebuffer resolution WxH (named only, no GUI in this core)")
		nogui    = flag.Bool("nogui", true, "disable the GUI front-end (always true here)")
		rv64     = flag.Bool("rv64", false, "run in RV64 mode (unsupported)")
		verbose  = flag.Bool("v", false, "verbose logging")
		showHelp = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *rv64 {
		fmt.Fprintln(os.Stderr, "rvvm: -rv64 is not supported by this core")
		os.Exit(1)
	}
	_ = image
	_ = dtbIn
	_ = res
	_ = nogui

	rvlog.SetVerbose(*verbose)

	m, err := machine.New(machine.Config{
		RAMBegin: defaultRAMBegin,
		RAMSize:  *memSize * 1024 * 1024,
		NumHarts: *smp,
		ResetPC:  defaultRAMBegin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvvm: %v\n", err)
		os.Exit(1)
	}

	eth := ethoc.New(ethoc.Config{RAM: m.RAM(), PLIC: m.PLIC(), HartID: 0, IRQ: ethocIRQ})
	if err := eth.Attach(m.MMIO(), ethocBase); err != nil {
		rvlog.Warnf("ethernet: attach failed: %v", err)
	} else {
		m.TrackAttach(ethocBase)
	}

	if *dumpDTB != "" {
		if err := writeDTB(*dumpDTB, *smp); err != nil {
			rvlog.Errorf("dumpdtb: %v", err)
		}
		return
	}

	if *kernel != "" {
		data, err := os.ReadFile(*kernel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rvvm: %v\n", err)
			os.Exit(1)
		}
		if !m.RAM().Write(defaultRAMBegin, data) {
			fmt.Fprintln(os.Stderr, "rvvm: kernel image does not fit in RAM")
			os.Exit(1)
		}
	}

	if err := m.Run(); err != nil {
		rvlog.Errorf("run: %v", err)
	}
	m.Shutdown()
}

// writeDTB builds a minimal device tree describing the machine's soc
// node and PLIC, matching the shape original_source/src/main.c builds
// before calling fdt_serialize, and writes it to path.
func writeDTB(path string, smp int) error {
	tree := fdt.New()
	root := tree.Root
	root.AddPropStr("compatible", "rvvm,go-core")
	root.AddPropU32("#address-cells", 1)
	root.AddPropU32("#size-cells", 1)

	soc := root.AddChild(fdt.NewNode("soc"))
	soc.AddPropStr("compatible", "simple-bus")

	plic := soc.AddChild(fdt.NewNode("plic"))
	plic.AddPropStr("compatible", "riscv,plic0")
	plic.AddPropU32("riscv,ndev", uint32(smp))

	ethNode := soc.AddChild(fdt.NewNode("ethernet"))
	ethNode.AddPropReg(ethocBase, ethoc.RegWindowSize)
	ethNode.AddPropStr("compatible", "opencores,ethoc")
	ethNode.AddPropU32("interrupts", ethocIRQ)

	blob, err := tree.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0o644)
}
