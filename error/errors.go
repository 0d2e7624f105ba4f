package error

//
// Copyright (c) 2019 ARM Limited.
//
// SPDX-License-Identifier: MIT
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to
// deal in the Software without restriction, including without limitation the
// rights to use, copy, modify, merge, publish, distribute, sublicense, and/or
// sell copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//

import (
	"encoding/json"
)

type DBerror struct {
	Msg       string `json:"message"`
	ErrorCode int    `json:"code"`
}

func (dbError DBerror) Error() string {
	return dbError.Msg
}

func (dbError DBerror) Code() int {
	return dbError.ErrorCode
}

func (dbError DBerror) JSON() []byte {
	json, _ := json.Marshal(dbError)

	return json
}

func DBErrorFromJSON(encodedError []byte) (DBerror, error) {
	var dbError DBerror

	if err := json.Unmarshal(encodedError, &dbError); err != nil {
		return DBerror{}, err
	}

	return dbError, nil
}

const (
	eEMPTY                = iota
	eSTORAGE              = iota
	eCORRUPTED            = iota
	eINVALID_MESSAGE      = iota
	eUNSUPPORTED_VERSION  = iota
	eREMOTE_TIMEOUT       = iota
	eDUPLICATE_IDENTITY   = iota
	eNOT_PERMITTED        = iota
	eNO_SUCH_REPLICA      = iota
	eINCONSISTENT         = iota
	eLINK_DEAD            = iota
	eNO_SUCH_LINK         = iota
	eNOT_GRANTED          = iota
	ePARTIAL_RESULT       = iota
	eINVALID_IDENTITY     = iota
	eINCOMING_REGISTERED  = iota
	eLINK_TO_SELF         = iota
	eINVALID_ACCESS_SPEC  = iota
)

var (
	EEmpty               = DBerror{"Parameter was empty or nil", eEMPTY}
	EStorage             = DBerror{"The storage driver experienced an error", eSTORAGE}
	ECorrupted           = DBerror{"The storage medium is corrupted", eCORRUPTED}
	EInvalidMessage      = DBerror{"The message could not be decoded", eINVALID_MESSAGE}
	EUnsupportedVersion  = DBerror{"The message was encoded with an unsupported protocol version", eUNSUPPORTED_VERSION}
	ERemoteTimeout       = DBerror{"The remote peer did not respond in time", eREMOTE_TIMEOUT}
	EDuplicateIdentity   = DBerror{"A replica with this identity already exists", eDUPLICATE_IDENTITY}
	ENotPermitted        = DBerror{"The operation is not permitted on this replica", eNOT_PERMITTED}
	ENoSuchReplica       = DBerror{"No replica with this identity exists", eNO_SUCH_REPLICA}
	EInconsistent        = DBerror{"The change is inconsistent with the state of the replica", eINCONSISTENT}
	ELinkDead            = DBerror{"The link to this peer has been shut down", eLINK_DEAD}
	ENoSuchLink          = DBerror{"No link to this peer exists", eNO_SUCH_LINK}
	ENotGranted          = DBerror{"The remote peer did not grant the request", eNOT_GRANTED}
	EPartialResult       = DBerror{"Only some of the requested objects could be accessed", ePARTIAL_RESULT}
	EInvalidIdentity     = DBerror{"The identity is empty", eINVALID_IDENTITY}
	EIncomingRegistered  = DBerror{"A different link is already registered as the incoming processor", eINCOMING_REGISTERED}
	ELinkToSelf          = DBerror{"A node cannot open a link to itself", eLINK_TO_SELF}
	EInvalidAccessSpec   = DBerror{"The access specification does not name an object", eINVALID_ACCESS_SPEC}
)
