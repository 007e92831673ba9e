/*
Copyright 2024 Orangemart Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// lightningAddressPattern accepts user@domain with exactly one @ and no
// whitespace; the gateway does the real LNURL validation.
var lightningAddressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type BuyRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Units     int64  `json:"units"`
}

func (b *BuyRequest) ValidateBuyRequest() error {
	return validation.ValidateStruct(b,
		validation.Field(&b.ActorID, validation.Required),
		validation.Field(&b.Units, validation.Required, validation.Min(1)),
	)
}

type VipRequest struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name"`
}

func (v *VipRequest) ValidateVipRequest() error {
	return validation.ValidateStruct(v,
		validation.Field(&v.ActorID, validation.Required),
	)
}

type SendRequest struct {
	ActorID          string `json:"actor_id"`
	ActorName        string `json:"actor_name"`
	Units            int64  `json:"units"`
	LightningAddress string `json:"lightning_address"`
}

func (s *SendRequest) ValidateSendRequest() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ActorID, validation.Required),
		validation.Field(&s.Units, validation.Required, validation.Min(1)),
		validation.Field(&s.LightningAddress, validation.Required,
			validation.Match(lightningAddressPattern).Error("must be a lightning address like user@domain.com")),
	)
}
