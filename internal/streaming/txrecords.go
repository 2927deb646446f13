package streaming

import (
	"fmt"

	"txindex/internal/domain"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the cctup.TxRecords schema.
const (
	fieldRecords protowire.Number = 1

	fieldRecordID      protowire.Number = 1
	fieldRecordKind    protowire.Number = 2
	fieldRecordRaw     protowire.Number = 3
	fieldRecordDecoded protowire.Number = 4

	fieldRawFrom                 protowire.Number = 1
	fieldRawTo                   protowire.Number = 2
	fieldRawValue                protowire.Number = 3
	fieldRawGasLimit             protowire.Number = 4
	fieldRawGasPrice             protowire.Number = 5
	fieldRawMaxFeePerGas         protowire.Number = 6
	fieldRawMaxPriorityFeePerGas protowire.Number = 7
	fieldRawAccessList           protowire.Number = 8
	fieldRawData                 protowire.Number = 9
	fieldRawTxType               protowire.Number = 10

	fieldDecodedSelector  protowire.Number = 1
	fieldDecodedFnSig     protowire.Number = 2
	fieldDecodedArgs      protowire.Number = 3
	fieldDecodedAbiSource protowire.Number = 4
	fieldDecodedArgsJSON  protowire.Number = 5
)

// MarshalTxRecords encodes records in protobuf binary form. Zero scalars are
// omitted; nested messages are written whenever they are non-nil.
func MarshalTxRecords(records domain.TxRecords) []byte {
	var b []byte
	for i := range records.Records {
		b = protowire.AppendTag(b, fieldRecords, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRecord(&records.Records[i]))
	}
	return b
}

func marshalRecord(r *domain.TxRecord) []byte {
	var b []byte
	b = appendBytes(b, fieldRecordID, r.ID)
	b = appendString(b, fieldRecordKind, r.Kind)
	if r.Raw != nil {
		b = protowire.AppendTag(b, fieldRecordRaw, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRaw(r.Raw))
	}
	if r.Decoded != nil {
		b = protowire.AppendTag(b, fieldRecordDecoded, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDecoded(r.Decoded))
	}
	return b
}

func marshalRaw(r *domain.Raw) []byte {
	var b []byte
	b = appendBytes(b, fieldRawFrom, r.From)
	b = appendBytes(b, fieldRawTo, r.To)
	b = appendString(b, fieldRawValue, r.Value)
	b = appendVarint(b, fieldRawGasLimit, r.GasLimit)
	b = appendString(b, fieldRawGasPrice, r.GasPrice)
	b = appendString(b, fieldRawMaxFeePerGas, r.MaxFeePerGas)
	b = appendString(b, fieldRawMaxPriorityFeePerGas, r.MaxPriorityFeePerGas)
	b = appendString(b, fieldRawAccessList, r.AccessList)
	b = appendBytes(b, fieldRawData, r.Data)
	b = appendVarint(b, fieldRawTxType, uint64(r.TxType))
	return b
}

func marshalDecoded(d *domain.Decoded) []byte {
	var b []byte
	b = appendString(b, fieldDecodedSelector, d.Selector)
	b = appendString(b, fieldDecodedFnSig, d.FnSig)
	for _, arg := range d.Args {
		b = protowire.AppendTag(b, fieldDecodedArgs, protowire.BytesType)
		b = protowire.AppendString(b, arg)
	}
	b = appendString(b, fieldDecodedAbiSource, d.AbiSource)
	b = appendString(b, fieldDecodedArgsJSON, d.ArgsJSON)
	return b
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// UnmarshalTxRecords decodes the protobuf binary form. Unknown fields are skipped.
func UnmarshalTxRecords(b []byte) (domain.TxRecords, error) {
	var out domain.TxRecords
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldRecords || typ != protowire.BytesType {
			return skipField(num, typ, b)
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, nil
		}
		rec, err := unmarshalRecord(v)
		if err != nil {
			return 0, err
		}
		out.Records = append(out.Records, rec)
		return n, nil
	})
	if err != nil {
		return domain.TxRecords{}, fmt.Errorf("decode tx records: %w", err)
	}
	return out, nil
}

func unmarshalRecord(b []byte) (domain.TxRecord, error) {
	var r domain.TxRecord
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField(num, typ, b)
		}
		switch num {
		case fieldRecordID:
			return consumeBytes(b, &r.ID)
		case fieldRecordKind:
			return consumeString(b, &r.Kind)
		case fieldRecordRaw:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			raw, err := unmarshalRaw(v)
			if err != nil {
				return 0, fmt.Errorf("raw: %w", err)
			}
			r.Raw = &raw
			return n, nil
		case fieldRecordDecoded:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			decoded, err := unmarshalDecoded(v)
			if err != nil {
				return 0, fmt.Errorf("decoded: %w", err)
			}
			r.Decoded = &decoded
			return n, nil
		}
		return skipField(num, typ, b)
	})
	return r, err
}

func unmarshalRaw(b []byte) (domain.Raw, error) {
	var r domain.Raw
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case typ == protowire.VarintType && num == fieldRawGasLimit:
			return consumeVarint(b, &r.GasLimit)
		case typ == protowire.VarintType && num == fieldRawTxType:
			var v uint64
			n, err := consumeVarint(b, &v)
			r.TxType = uint32(v)
			return n, err
		case typ != protowire.BytesType:
			return skipField(num, typ, b)
		}
		switch num {
		case fieldRawFrom:
			return consumeBytes(b, &r.From)
		case fieldRawTo:
			return consumeBytes(b, &r.To)
		case fieldRawValue:
			return consumeString(b, &r.Value)
		case fieldRawGasPrice:
			return consumeString(b, &r.GasPrice)
		case fieldRawMaxFeePerGas:
			return consumeString(b, &r.MaxFeePerGas)
		case fieldRawMaxPriorityFeePerGas:
			return consumeString(b, &r.MaxPriorityFeePerGas)
		case fieldRawAccessList:
			return consumeString(b, &r.AccessList)
		case fieldRawData:
			return consumeBytes(b, &r.Data)
		}
		return skipField(num, typ, b)
	})
	return r, err
}

func unmarshalDecoded(b []byte) (domain.Decoded, error) {
	var d domain.Decoded
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skipField(num, typ, b)
		}
		switch num {
		case fieldDecodedSelector:
			return consumeString(b, &d.Selector)
		case fieldDecodedFnSig:
			return consumeString(b, &d.FnSig)
		case fieldDecodedArgs:
			var arg string
			n, err := consumeString(b, &arg)
			if n >= 0 && err == nil {
				d.Args = append(d.Args, arg)
			}
			return n, err
		case fieldDecodedAbiSource:
			return consumeString(b, &d.AbiSource)
		case fieldDecodedArgsJSON:
			return consumeString(b, &d.ArgsJSON)
		}
		return skipField(num, typ, b)
	})
	return d, err
}

type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

// walkFields iterates the tagged fields of a message. fn receives the bytes
// following the tag and returns how many it consumed, or a negative
// protowire error code.
func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, b), nil
}

func consumeBytes(b []byte, dst *[]byte) (int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n, nil
	}
	if len(v) > 0 {
		*dst = append([]byte(nil), v...)
	}
	return n, nil
}

func consumeString(b []byte, dst *string) (int, error) {
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, nil
	}
	*dst = v
	return n, nil
}

func consumeVarint(b []byte, dst *uint64) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, nil
	}
	*dst = v
	return n, nil
}
