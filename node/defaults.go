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

package node

import (
	"net"
	"os"
)

// advertiseHost turns a listener's bind host into the address peers
// should dial back on. A bind host of "" or "0.0.0.0" (listen-on-all)
// is not itself reachable, so it falls back through progressively less
// specific sources the way DefaultDataDir once fell back through
// candidate home directories; any other configured host is advertised
// as-is.
func advertiseHost(bindHost string) string {
	if bindHost != "" && bindHost != "0.0.0.0" {
		return bindHost
	}
	hostname, err := os.Hostname()
	if err == nil {
		if addrs, err := net.LookupHost(hostname); err == nil && len(addrs) > 0 {
			return addrs[0]
		}
	}
	return "127.0.0.1"
}
