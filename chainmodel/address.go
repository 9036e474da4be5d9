// Copyright 2016 The go-datx Authors
// This file is part of the go-datx library.
//
// The go-datx library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-datx library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-datx library. If not, see <http://www.gnu.org/licenses/>.

// Package chainmodel defines the wire and in-memory representations of
// blocks, transactions, and the packages that carry them between nodes.
package chainmodel

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Address identifies a wallet. MineAddress is reserved: it denotes the
// coinbase source and is treated as having infinite balance by the ledger.
type Address string

// MineAddress is the coinbase source address.
const MineAddress Address = "MINE"

// PeerAddr identifies a node on the network by (host, port). JSON requires
// it be serialized as a 2-element array; ToList/PeerFromList convert at
// every wire boundary.
type PeerAddr struct {
	Host string
	Port int
}

// ToList converts a PeerAddr into its wire form, for call sites still
// building a raw []interface{} payload (e.g. the "node list" response).
func (p PeerAddr) ToList() []interface{} {
	return []interface{}{p.Host, p.Port}
}

// String renders the peer address as host:port, for logging.
func (p PeerAddr) String() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// MarshalJSON renders a PeerAddr as a 2-element [host, port] array, since
// JSON has no tuple type.
func (p PeerAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{p.Host, p.Port})
}

// UnmarshalJSON recovers a PeerAddr from its [host, port] wire form.
func (p *PeerAddr) UnmarshalJSON(data []byte) error {
	var list [2]interface{}
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	host, ok := list[0].(string)
	if !ok {
		return fmt.Errorf("chainmodel: peer address host is not a string: %v", list[0])
	}
	port, ok := list[1].(float64)
	if !ok {
		return fmt.Errorf("chainmodel: peer address port is not a number: %v", list[1])
	}
	p.Host = host
	p.Port = int(port)
	return nil
}

// PeerFromList recovers a PeerAddr from its 2-element wire form.
func PeerFromList(list []interface{}) (PeerAddr, bool) {
	if len(list) != 2 {
		return PeerAddr{}, false
	}
	host, ok := list[0].(string)
	if !ok {
		return PeerAddr{}, false
	}
	var port int
	switch v := list[1].(type) {
	case float64:
		port = int(v)
	case int:
		port = v
	default:
		return PeerAddr{}, false
	}
	return PeerAddr{Host: host, Port: port}, true
}
