// Package fdt builds a minimal flattened device tree blob describing
// the machine's attached devices, for the `-dumpdtb` CLI flag.
//
// Device-tree blob generation is named in the specification's §1
// out-of-scope list only insofar as deep FDT semantics go; the CLI
// surface in §6 still names `-dumpdtb` as a real flag, and
// original_source/src/main.c shows the original building a node tree
// with fdt_node_create_reg/fdt_node_add_prop_*/fdt_serialize and
// writing it out on that flag. This package is a deliberately small,
// standard-library implementation of that same shape: the flattened
// device tree is a fixed binary layout (devicetree spec v0.3) with no
// precedent library anywhere in the retrieval pack, so building it by
// hand with encoding/binary is the only option rather than a stdlib
// fallback of convenience.
package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	magic       = 0xd00dfeed
	beginNode   = 0x00000001
	endNode     = 0x00000002
	propToken   = 0x00000003
	endToken    = 0x00000009
	headerWords = 10
)

// Node is one device-tree node: a name, an ordered set of properties,
// and child nodes.
type Node struct {
	Name     string
	props    []prop
	Children []*Node
}

type prop struct {
	name string
	data []byte
}

// NewNode creates an empty node named name (e.g. "soc" or
// "ethernet@10090000").
func NewNode(name string) *Node { return &Node{Name: name} }

// AddChild appends child to n's children and returns child, so builder
// calls can be chained.
func (n *Node) AddChild(child *Node) *Node {
	n.Children = append(n.Children, child)
	return child
}

// AddPropStr adds a NUL-terminated string property.
func (n *Node) AddPropStr(name, value string) {
	n.props = append(n.props, prop{name: name, data: append([]byte(value), 0)})
}

// AddPropU32 adds a single big-endian 32-bit integer property, the
// devicetree format's native integer encoding.
func (n *Node) AddPropU32(name string, value uint32) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	n.props = append(n.props, prop{name: name, data: buf})
}

// AddPropReg adds a "reg" property encoding a single (address, size)
// pair as a pair of big-endian 32-bit cells (this builder targets
// #address-cells = #size-cells = 1, matching the RV32 physical address
// width the rest of this module uses).
func (n *Node) AddPropReg(addr, size uint32) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], addr)
	binary.BigEndian.PutUint32(buf[4:8], size)
	n.props = append(n.props, prop{name: "reg", data: buf})
}

// Find returns the first descendant (including n itself) whose Name
// equals name, or nil.
func (n *Node) Find(name string) *Node {
	if n.Name == name {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(name); found != nil {
			return found
		}
	}
	return nil
}

// Tree is the root of a device tree being assembled for serialization.
type Tree struct {
	Root *Node
}

// New returns a Tree with an anonymous root node.
func New() *Tree {
	return &Tree{Root: NewNode("")}
}

// Serialize encodes the tree as a flattened device tree blob
// (devicetree spec v0.3: header, empty memory-reservation block,
// structure block, strings block).
func (t *Tree) Serialize() ([]byte, error) {
	var strs bytes.Buffer
	strOff := map[string]uint32{}
	internString := func(s string) uint32 {
		if off, ok := strOff[s]; ok {
			return off
		}
		off := uint32(strs.Len())
		strs.WriteString(s)
		strs.WriteByte(0)
		strOff[s] = off
		return off
	}

	var structBlock bytes.Buffer
	var emit func(n *Node) error
	emit = func(n *Node) error {
		writeU32(&structBlock, beginNode)
		name := append([]byte(n.Name), 0)
		structBlock.Write(name)
		padTo4(&structBlock)

		for _, p := range n.props {
			writeU32(&structBlock, propToken)
			writeU32(&structBlock, uint32(len(p.data)))
			writeU32(&structBlock, internString(p.name))
			structBlock.Write(p.data)
			padTo4(&structBlock)
		}

		for _, c := range n.Children {
			if err := emit(c); err != nil {
				return err
			}
		}

		writeU32(&structBlock, endNode)
		return nil
	}
	if err := emit(t.Root); err != nil {
		return nil, fmt.Errorf("fdt: serialize: %w", err)
	}
	writeU32(&structBlock, endToken)

	const headerSize = headerWords * 4
	const memRsvSize = 16 // one terminating zero entry
	structOff := uint32(headerSize + memRsvSize)
	stringsOff := structOff + uint32(structBlock.Len())
	totalSize := stringsOff + uint32(strs.Len())

	var out bytes.Buffer
	writeU32(&out, magic)
	writeU32(&out, totalSize)
	writeU32(&out, structOff)
	writeU32(&out, stringsOff)
	writeU32(&out, headerSize) // off_mem_rsvmap
	writeU32(&out, 17)         // version
	writeU32(&out, 16)         // last_comp_version
	writeU32(&out, 0)          // boot_cpuid_phys
	writeU32(&out, uint32(strs.Len()))
	writeU32(&out, uint32(structBlock.Len()))

	out.Write(make([]byte, memRsvSize)) // single zero-filled reservation entry
	out.Write(structBlock.Bytes())
	out.Write(strs.Bytes())

	return out.Bytes(), nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func padTo4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}
