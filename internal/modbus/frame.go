package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// mbapHeaderLen is the MBAP header including the unit ID.
const mbapHeaderLen = 7

// maxFrameLen is the largest Modbus-TCP ADU.
const maxFrameLen = 260

// Frame is an MBAP header followed by the PDU.
type Frame struct {
	TransactionID uint16
	ProtocolID    uint16 // always 0 for Modbus
	Length        uint16 // bytes following the length field
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04
	FuncCodeWriteSingleRegister  = 0x06

	exceptionFlag = 0x80
)

var ErrException = errors.New("modbus exception")

// ExceptionError is a device-reported exception response.
type ExceptionError struct {
	FunctionCode uint8
	Code         uint8
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("%s: function 0x%02X, code 0x%02X", ErrException, e.FunctionCode, e.Code)
}

func (e *ExceptionError) Unwrap() error {
	return ErrException
}

// Encode builds the complete TCP frame.
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // unit ID + function code

	frame := make([]byte, mbapHeaderLen+1+len(f.Data))
	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID
	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a received frame. Exception responses decode to an
// *ExceptionError.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < mbapHeaderLen+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}
	if int(frame.Length) != len(data)-6 {
		return nil, fmt.Errorf("length mismatch: header %d, frame %d", frame.Length, len(data)-6)
	}

	if len(data) > mbapHeaderLen+1 {
		frame.Data = data[8:]
	}

	if frame.FunctionCode&exceptionFlag != 0 {
		var code uint8
		if len(frame.Data) > 0 {
			code = frame.Data[0]
		}
		return nil, &ExceptionError{FunctionCode: frame.FunctionCode &^ exceptionFlag, Code: code}
	}

	return frame, nil
}

func readRegistersRequest(fc, unitID uint8, startAddr, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{UnitID: unitID, FunctionCode: fc, Data: data}
}

func ReadHoldingRegistersRequest(unitID uint8, startAddr, quantity uint16) *Frame {
	return readRegistersRequest(FuncCodeReadHoldingRegisters, unitID, startAddr, quantity)
}

func ReadInputRegistersRequest(unitID uint8, startAddr, quantity uint16) *Frame {
	return readRegistersRequest(FuncCodeReadInputRegisters, unitID, startAddr, quantity)
}

func WriteSingleRegisterRequest(unitID uint8, addr, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &Frame{UnitID: unitID, FunctionCode: FuncCodeWriteSingleRegister, Data: data}
}

// ParseRegisterResponse extracts the register values of a 0x03/0x04 reply.
func (f *Frame) ParseRegisterResponse() ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if byteCount%2 != 0 || len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}

	registers := make([]uint16, byteCount/2)
	for i := range registers {
		offset := 1 + i*2
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
