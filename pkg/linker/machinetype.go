package linker

import (
	"debug/elf"
	"encoding/binary"
)

type MachineType = int8

const (
	MachineTypeNone   MachineType = iota
	MachineTypeI386   MachineType = iota
	MachineTypeX86_64 MachineType = iota
)

func GetMachineTypeFromContents(contents []byte) MachineType {
	ft := GetFileType(contents)

	switch ft {
	case FileTypeObject, FileTypeDso:
		machine := binary.LittleEndian.Uint16(contents[18:])
		class := contents[4]
		switch {
		case machine == uint16(elf.EM_X86_64) && class == byte(elf.ELFCLASS64):
			return MachineTypeX86_64
		case machine == uint16(elf.EM_386) && class == byte(elf.ELFCLASS32):
			return MachineTypeI386
		}
	}

	return MachineTypeNone
}

type MachineTypeStringer struct {
	MachineType
}

func (mts MachineTypeStringer) String() string {
	switch mts.MachineType {
	case MachineTypeI386:
		return "elf_i386"
	case MachineTypeX86_64:
		return "elf_x86_64"
	}
	return "none"
}
