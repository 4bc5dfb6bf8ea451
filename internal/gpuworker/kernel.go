package gpuworker

// kernelSource is the OpenCL C search kernel described in spec §4.3: each
// invocation computes the keyed Blake2b-64 digest of nonce_le(base+gid) ‖
// hash and, if it meets the threshold, atomically publishes the first-seen
// winning nonce into a single-slot output buffer that the host zero-
// initializes before every launch.
//
// The compression function below implements the subset of Blake2b needed
// for an 8-byte (one 12-round compression of the single 128-byte padded
// block) keyless digest of a 40-byte input (8-byte little-endian nonce ‖ 32-byte
// hash), matching internal/powhash.Digest on the host side bit-for-bit.
const kernelSource = `
__constant ulong blake2b_iv[8] = {
    0x6a09e667f3bcc908UL, 0xbb67ae8584caa73bUL,
    0x3c6ef372fe94f82bUL, 0xa54ff53a5f1d36f1UL,
    0x510e527fade682d1UL, 0x9b05688c2b3e6c1fUL,
    0x1f83d9abfb41bd6bUL, 0x5be0cd19137e2179UL
};

__constant uchar sigma[12][16] = {
    { 0, 1, 2, 3, 4, 5, 6, 7, 8, 9,10,11,12,13,14,15},
    {14,10, 4, 8, 9,15,13, 6, 1,12, 0, 2,11, 7, 5, 3},
    {11, 8,12, 0, 5, 2,15,13,10,14, 3, 6, 7, 1, 9, 4},
    { 7, 9, 3, 1,13,12,11,14, 2, 6, 5,10, 4, 0,15, 8},
    { 9, 0, 5, 7, 2, 4,10,15,14, 1,11,12, 6, 8, 3,13},
    { 2,12, 6,10, 0,11, 8, 3, 4,13, 7, 5,15,14, 1, 9},
    {12, 5, 1,15,14,13, 4,10, 0, 7, 6, 3, 9, 2, 8,11},
    {13,11, 7,14,12, 1, 3, 9, 5, 0,15, 4, 8, 6, 2,10},
    { 6,15,14, 9,11, 3, 0, 8,12, 2,13, 7, 1, 4,10, 5},
    {10, 2, 8, 4, 7, 6, 1, 5,15,11, 9,14, 3,12,13 ,0},
    { 0, 1, 2, 3, 4, 5, 6, 7, 8, 9,10,11,12,13,14,15},
    {14,10, 4, 8, 9,15,13, 6, 1,12, 0, 2,11, 7, 5, 3}
};

inline ulong rotr64(ulong x, uint n) {
    return (x >> n) | (x << (64 - n));
}

inline void g(ulong *v, int a, int b, int c, int d, ulong x, ulong y) {
    v[a] = v[a] + v[b] + x;
    v[d] = rotr64(v[d] ^ v[a], 32);
    v[c] = v[c] + v[d];
    v[b] = rotr64(v[b] ^ v[c], 24);
    v[a] = v[a] + v[b] + y;
    v[d] = rotr64(v[d] ^ v[a], 16);
    v[c] = v[c] + v[d];
    v[b] = rotr64(v[b] ^ v[c], 63);
}

// blake2b64 hashes exactly one 40-byte message (nonce ‖ hash) with an
// 8-byte digest, mirroring internal/powhash.Digest's parameters.
ulong blake2b64(ulong nonce_le, __global const uchar *hash32) {
    ulong h[8];
    for (int i = 0; i < 8; i++) h[i] = blake2b_iv[i];
    h[0] ^= 0x01010000UL ^ (ulong)8; // digest length 8, no key

    ulong m[16];
    for (int i = 0; i < 16; i++) m[i] = 0;
    m[0] = nonce_le;
    for (int i = 0; i < 32; i++) {
        ((__private uchar *)m)[8 + i] = hash32[i];
    }

    ulong v[16];
    for (int i = 0; i < 8; i++) { v[i] = h[i]; v[i + 8] = blake2b_iv[i]; }
    v[12] ^= (ulong)40; // low 64 bits of byte counter
    v[14] ^= ~0UL;      // final block flag

    for (int round = 0; round < 12; round++) {
        g(v, 0, 4,  8, 12, m[sigma[round][0]],  m[sigma[round][1]]);
        g(v, 1, 5,  9, 13, m[sigma[round][2]],  m[sigma[round][3]]);
        g(v, 2, 6, 10, 14, m[sigma[round][4]],  m[sigma[round][5]]);
        g(v, 3, 7, 11, 15, m[sigma[round][6]],  m[sigma[round][7]]);
        g(v, 0, 5, 10, 15, m[sigma[round][8]],  m[sigma[round][9]]);
        g(v, 1, 6, 11, 12, m[sigma[round][10]], m[sigma[round][11]]);
        g(v, 2, 7,  8, 13, m[sigma[round][12]], m[sigma[round][13]]);
        g(v, 3, 4,  9, 14, m[sigma[round][14]], m[sigma[round][15]]);
    }
    for (int i = 0; i < 8; i++) h[i] ^= v[i] ^ v[i + 8];
    return h[0]; // digest bytes 0..7, read little-endian as the searched u64
}

// search assigns nonce = base + gid to each global id, and on a threshold
// hit writes the first-seen winning nonce into out[0] (zero-initialized by
// the host before every launch, per spec §4.3).
__kernel void search(
    __global const uchar *hash,
    ulong threshold,
    ulong base,
    __global ulong *out)
{
    size_t gid = get_global_id(0);
    ulong nonce = base + (ulong)gid;
    ulong digest = blake2b64(nonce, hash);
    if (digest >= threshold) {
        atom_cmpxchg(out, 0UL, nonce);
    }
}
`
