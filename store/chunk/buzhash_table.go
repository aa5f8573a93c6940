// Copyright 2026 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunk

// buzhashTable is the 256-entry BuzHash substitution table. It is part of
// the on-disk chunking contract: two independent implementations that
// disagree on this table will split identical input into different chunks
// and silently lose all cross-implementation dedup. The table below is
// generated once by a splitmix64 PRNG seeded from the ASCII bytes
// "NBSBackup" and then frozen; it must never be regenerated.
var buzhashTable = [256]uint32{
	0x5d867eb1, 0xd0f17d6a, 0xf560efb3, 0xaa33b48d, 0x59ba29de, 0xc9b75f83,
	0x292cf9ca, 0xbace9b76, 0x18306408, 0xb790b72e, 0x66b4bf25, 0xcf011fbe,
	0x70087f31, 0x38522635, 0xb185a93f, 0x501d46db, 0xbebcb303, 0x75507879,
	0x337051fe, 0x89e806d7, 0xc5b72d72, 0x1f0df4d8, 0xd9c14700, 0x6f23810e,
	0x2326788b, 0x95f3e2f8, 0xbe5bc1c6, 0xf4291f37, 0xd6d17b12, 0x11bbf3df,
	0x04adc88b, 0x45b4c503, 0x581f5cbc, 0x2fb5b2c5, 0x43d6ab18, 0x4fe6c20e,
	0xd1637b80, 0xa7f7a423, 0xaebc91a1, 0x76f00a9b, 0xa8d3087c, 0xf0356b22,
	0x823d53ea, 0x1e1a91ea, 0x30f99f1f, 0xe4b117a3, 0x2b65369d, 0x8c143ff3,
	0x8aa4821c, 0xca51061a, 0x23b5d452, 0xa8935930, 0x284bc8c5, 0x8e08f9c9,
	0x66d9a43b, 0xdd49cd36, 0x6442d46a, 0xe17c416f, 0x2d507dae, 0x074855df,
	0x6ea9634a, 0xf2a5c17c, 0x3485b28f, 0x4f5c3d2a, 0xde65a2e3, 0x3411633b,
	0xbaa8befc, 0x0cebd7a7, 0x1209bea0, 0xb9c390fb, 0xf89b0220, 0x7b6b11bc,
	0xda1312b2, 0x7d6c5379, 0xb3d4b001, 0xf8d3edac, 0xeb8283be, 0x6d6dc7c1,
	0xf58c244d, 0x8ac3f62e, 0x8cb06b96, 0xa19334d5, 0xe2cf5f79, 0xf9c63a50,
	0xe3b480d1, 0x5abf71c5, 0xf0afb464, 0xd601c8c6, 0x8fbeea39, 0x0f20b9c4,
	0xbb1ada05, 0x222079a7, 0x3321044f, 0xded2532d, 0x4d7bec97, 0x99950d60,
	0xd307c31a, 0xbf9e5cba, 0x06d5e22f, 0x58ab9b61, 0xe2d45c55, 0x9aabf001,
	0xe864d7db, 0x772f364e, 0x622460a7, 0x428a246d, 0xb47701a8, 0x12b0d6f4,
	0x40c91045, 0xa287472a, 0xc652d515, 0x5711225c, 0x788a4d60, 0xf287c0d0,
	0xa312848a, 0xb25ed2a2, 0x15e9a83d, 0x092ed866, 0xb077a724, 0xe9fa4998,
	0x6bacaa8d, 0xa16a3a02, 0x3c44fbac, 0x28d67f5e, 0x829c13b6, 0x499c3e9b,
	0xbede31fc, 0x7a65d46f, 0x00150cd0, 0x7fa0696a, 0xd8e49a32, 0xd5e54e52,
	0x2f549a32, 0x68ba36e8, 0x582abbe7, 0x21d01f52, 0x974d4f28, 0x5c80fb12,
	0xfbf8dc11, 0x45df9c76, 0x5e16d67f, 0x8ccfaba5, 0x332e9e7e, 0x830e1295,
	0xd8b2faaf, 0x4add30ff, 0xbfd89d2e, 0x5c7a10fc, 0xbd4a949d, 0x517a7439,
	0x6b17d56a, 0xc5ab886d, 0x1c3f3078, 0x098953ab, 0x7ffb453a, 0x4b753ee9,
	0xebdc0fe3, 0xf001080a, 0xedc5d648, 0x5acdb97c, 0xd249a62f, 0x170813cd,
	0x1c8da0e8, 0x21c82f2f, 0xc2e9b67f, 0x87c4deba, 0xe905081a, 0x1ccc2f56,
	0xfe979941, 0x8be8001b, 0x492c1ad6, 0xfd70947d, 0x9e5bf4a9, 0x0fb835e4,
	0x3097267c, 0x07985627, 0x364404b8, 0xc4a5dc5f, 0x485b71ea, 0x4b8a084d,
	0x9eb6bb4b, 0xf61f70e6, 0x08b3857d, 0x048ad01e, 0x4f3312c8, 0x3cea4f74,
	0xa2a75a4e, 0xe0445ae5, 0x671c6667, 0xab5e1df7, 0x596b88b6, 0x6790f359,
	0xdfabbfec, 0x12288d1e, 0x1675289a, 0x208629b1, 0x9016d796, 0x20e50593,
	0x67caf7b8, 0x28ccbd4e, 0x3c135e35, 0x8faaa6dd, 0x5d7e53b4, 0xd52e9a8b,
	0x5028e364, 0x0f812cb2, 0x0aa823da, 0xc14fc2e6, 0x8f5ebf21, 0x867b767c,
	0x59beece2, 0x310a4ec8, 0x1072872c, 0x54236420, 0x7be11e0c, 0x3161ffb3,
	0x179d7005, 0x8acb8566, 0x902b3ba8, 0xe4157055, 0x4d6c083a, 0x77d30d11,
	0x71ef441b, 0x36c0df62, 0xe230b336, 0x6cd1049b, 0xd3a039f9, 0x8afa8373,
	0x14d23eea, 0xa4a7a04f, 0xb25f09e5, 0x2352c0dd, 0x1b3cfa3f, 0x1bdd48cc,
	0x9e884646, 0xe4b48499, 0x23593297, 0x4b41ca4f, 0x50559638, 0xf380da08,
	0x1a3d3f2e, 0xea0c0a00, 0x1e834903, 0x9efbdb23, 0x8134c4a0, 0x4265dac8,
	0x552aac0c, 0x990d8144, 0x5edaff4d, 0x68b63a1f, 0x9d81f8f3, 0x8c9eca8e,
	0x2d764642, 0x732507c7, 0xc4b00bdd, 0xee58fc93,
}
